// Package waitpool implements the central scheduler of the watcher pipeline:
// the fetch queue, the per-submission check states, and the wait pool that
// the stage workers pull from and publish to.
package waitpool

import (
	"errors"
	"fmt"

	"github.com/subwatch/subwatch/internal/site"
)

// ErrQueueEmpty signals that a stage has nothing ready. Workers treat it as
// a cue to sleep, not a failure.
var ErrQueueEmpty = errors.New("queue empty")

// TooManyRefreshError means a submission id has been re-queued for refresh
// more times than the configured limit; the caller finalizes it without
// media instead of refreshing again.
type TooManyRefreshError struct {
	ID    site.SubmissionID
	Count int
}

func (e *TooManyRefreshError) Error() string {
	return fmt.Sprintf("submission %s refreshed %d times", e.ID, e.Count)
}

// FetchQueue is the two-tier id queue feeding the data fetchers: newly
// discovered ids first, refresh re-queues second. Each id carries a refresh
// counter capped at refreshLimit.
//
// FetchQueue is not internally locked; the wait pool accesses it under its
// own mutex.
type FetchQueue struct {
	newIDs     []site.SubmissionID
	refreshIDs []site.SubmissionID
	refreshes  map[site.SubmissionID]int
	limit      int
}

// NewFetchQueue builds an empty queue with the given refresh cap.
func NewFetchQueue(refreshLimit int) *FetchQueue {
	return &FetchQueue{
		refreshes: make(map[site.SubmissionID]int),
		limit:     refreshLimit,
	}
}

// PutNew appends an id to the new tier.
func (q *FetchQueue) PutNew(id site.SubmissionID) {
	q.newIDs = append(q.newIDs, id)
}

// PutRefresh appends an id to the refresh tier and bumps its counter.
// Returns TooManyRefreshError once the counter exceeds the cap; the id is
// not queued in that case.
func (q *FetchQueue) PutRefresh(id site.SubmissionID) error {
	count := q.refreshes[id] + 1
	if count > q.limit {
		return &TooManyRefreshError{ID: id, Count: count}
	}
	q.refreshes[id] = count
	q.refreshIDs = append(q.refreshIDs, id)
	return nil
}

// GetNoWait pops the next id, preferring the new tier. The second return
// reports whether the id came from the refresh tier. Returns ErrQueueEmpty
// when both tiers are empty.
func (q *FetchQueue) GetNoWait() (site.SubmissionID, bool, error) {
	if len(q.newIDs) > 0 {
		id := q.newIDs[0]
		q.newIDs = q.newIDs[1:]
		return id, false, nil
	}
	if len(q.refreshIDs) > 0 {
		id := q.refreshIDs[0]
		q.refreshIDs = q.refreshIDs[1:]
		return id, true, nil
	}
	return 0, false, ErrQueueEmpty
}

// LenNew returns the number of ids waiting in the new tier.
func (q *FetchQueue) LenNew() int {
	return len(q.newIDs)
}

// LenRefresh returns the number of ids waiting in the refresh tier.
func (q *FetchQueue) LenRefresh() int {
	return len(q.refreshIDs)
}

// Forget drops the refresh counter for an id. Called when the id's state
// leaves the pool.
func (q *FetchQueue) Forget(id site.SubmissionID) {
	delete(q.refreshes, id)
}
