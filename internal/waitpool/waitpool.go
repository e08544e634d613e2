package waitpool

import (
	"context"
	"errors"
	"sync"

	"github.com/subwatch/subwatch/internal/site"
	"github.com/subwatch/subwatch/internal/subscription"
)

// ErrStateNotFound reports an operation against an id the pool no longer
// tracks.
var ErrStateNotFound = errors.New("state not in wait pool")

// Pool is the central scheduler. One mutex guards everything: the state
// maps, the fetch queue, and every status flag inside the states. Workers
// never hold the lock across I/O.
//
// states holds every in-flight submission; active is the subset whose
// metadata has been fetched. The invariant active ⊆ states, with membership
// in active exactly when FullData is set, holds at every unlock.
type Pool struct {
	mu     sync.Mutex
	states map[site.SubmissionID]*CheckState
	active map[site.SubmissionID]*CheckState
	queue  *FetchQueue

	maxReadyForUpload int

	// progress is closed and replaced on every downstream step, waking the
	// backpressure gate in SetFetchedData.
	progress chan struct{}
}

// New builds an empty pool. maxReadyForUpload is the backpressure gate size;
// refreshLimit caps re-fetches per id.
func New(maxReadyForUpload, refreshLimit int) *Pool {
	return &Pool{
		states:            make(map[site.SubmissionID]*CheckState),
		active:            make(map[site.SubmissionID]*CheckState),
		queue:             NewFetchQueue(refreshLimit),
		maxReadyForUpload: maxReadyForUpload,
		progress:          make(chan struct{}),
	}
}

// pulse wakes everything waiting for downstream progress. Callers hold mu.
func (p *Pool) pulse() {
	close(p.progress)
	p.progress = make(chan struct{})
}

// AddSubID registers a newly discovered submission id and queues it for
// metadata fetch.
func (p *Pool) AddSubID(id site.SubmissionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[id] = NewCheckState(id)
	p.queue.PutNew(id)
}

// Contains reports whether the pool tracks the id.
func (p *Pool) Contains(id site.SubmissionID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.states[id]
	return ok
}

// GetNextForDataFetch pops the next id to fetch, preferring new ids over
// refreshes. The second return reports whether this is a refresh.
func (p *Pool) GetNextForDataFetch() (site.SubmissionID, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.GetNoWait()
}

// SetFetchedData publishes fetched metadata and its subscription matches,
// promoting the state to active. For ids not already active it first blocks
// on the backpressure gate: intake pauses while more than maxReadyForUpload
// submissions are draining through the media stages. Returns ctx.Err if
// cancelled while gated.
func (p *Pool) SetFetchedData(ctx context.Context, id site.SubmissionID, data *site.FullSubmission, matching []subscription.Key) error {
	p.mu.Lock()
	if _, isActive := p.active[id]; !isActive {
		for len(p.active) > p.maxReadyForUpload {
			wake := p.progress
			p.mu.Unlock()
			select {
			case <-wake:
			case <-ctx.Done():
				return ctx.Err()
			}
			p.mu.Lock()
		}
	}
	defer p.mu.Unlock()
	state, ok := p.states[id]
	if !ok {
		return nil
	}
	state.FullData = data
	state.Matching = matching
	p.active[id] = state
	return nil
}

// RevertDataFetch returns a submission to the un-fetched state and re-queues
// it for refresh. The state stays in active to avoid deadlocking a worker
// that still holds it. Returns TooManyRefreshError when the refresh cap is
// exceeded; the state is left untouched then so the caller can finalize the
// submission without media from what it already fetched.
func (p *Pool) RevertDataFetch(id site.SubmissionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[id]
	if !ok {
		state = NewCheckState(id)
		p.states[id] = state
	}
	if err := p.queue.PutRefresh(id); err != nil {
		return err
	}
	state.Reset()
	return nil
}

// GetNextForMediaDownload picks the lowest-id state ready for media
// download, marks it downloading, and returns its metadata. Returns
// ErrQueueEmpty when nothing is ready.
func (p *Pool) GetNextForMediaDownload() (*site.FullSubmission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := minState(p.active, (*CheckState).ReadyForDownload)
	if state == nil {
		return nil, ErrQueueEmpty
	}
	state.MediaDownloading = true
	p.pulse()
	return state.FullData, nil
}

// SetDownloaded publishes a downloaded media file for an id.
func (p *Pool) SetDownloaded(id site.SubmissionID, file *site.DownloadedFile, settings site.SendSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[id]
	if !ok {
		return
	}
	state.Downloaded = &DownloadedMedia{File: file, Settings: settings}
	state.MediaDownloading = false
}

// GetNextForMediaUpload picks the lowest-id state ready for upload and marks
// it uploading. The returned state is read by the worker; all writes go
// through the pool setters.
func (p *Pool) GetNextForMediaUpload() (*CheckState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := minState(p.active, (*CheckState).ReadyForUpload)
	if state == nil {
		return nil, ErrQueueEmpty
	}
	state.MediaUploading = true
	p.pulse()
	return state, nil
}

// SetCached publishes a submission-cache hit for an id, making it ready to
// send without an upload.
func (p *Pool) SetCached(id site.SubmissionID, entry *site.SentSubmission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[id]
	if !ok {
		return
	}
	state.CacheEntry = entry
	state.MediaDownloading = false
	state.MediaUploading = false
}

// SetUploaded publishes an uploaded media handle for an id, making it ready
// to send.
func (p *Pool) SetUploaded(id site.SubmissionID, media *site.UploadedMedia) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[id]
	if !ok {
		return
	}
	state.Uploaded = media
	state.MediaUploading = false
}

// RemoveState drops an id from the pool entirely, e.g. when no subscription
// matched it.
func (p *Pool) RemoveState(id site.SubmissionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.states[id]; !ok {
		return ErrStateNotFound
	}
	delete(p.states, id)
	delete(p.active, id)
	p.queue.Forget(id)
	p.pulse()
	return nil
}

// PopNextReadyToSend pops the globally lowest-id state if and only if it is
// ready to send. A lower id still in an earlier stage blocks everything
// behind it, which is what keeps delivery in submission order.
func (p *Pool) PopNextReadyToSend() *CheckState {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := minState(p.states, func(*CheckState) bool { return true })
	if state == nil || !state.ReadyToSend() {
		return nil
	}
	delete(p.states, state.ID)
	delete(p.active, state.ID)
	p.queue.Forget(state.ID)
	p.pulse()
	return state
}

// ReturnPopulatedState puts a popped state back, preserving active
// membership when metadata is present. The sender uses this to hand an
// in-flight submission back on shutdown or crash.
func (p *Pool) ReturnPopulatedState(state *CheckState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[state.ID] = state
	if state.FullData != nil {
		p.active[state.ID] = state
	}
}

// ─── Sizes ───────────────────────────────────────────────────────────────────

// Size returns the number of tracked submissions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// SizeActive returns the number of submissions with fetched metadata.
func (p *Pool) SizeActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// QueueSizes returns the per-stage backlog sizes for observability.
func (p *Pool) QueueSizes() (fetchNew, fetchRefresh, download, upload, send int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fetchNew = p.queue.LenNew()
	fetchRefresh = p.queue.LenRefresh()
	for _, state := range p.active {
		switch {
		case state.ReadyForDownload():
			download++
		case state.ReadyForUpload():
			upload++
		case state.ReadyToSend():
			send++
		}
	}
	return
}

// minState returns the ready state with the smallest key, or nil.
func minState(states map[site.SubmissionID]*CheckState, ready func(*CheckState) bool) *CheckState {
	var best *CheckState
	for _, state := range states {
		if !ready(state) {
			continue
		}
		if best == nil || state.Key() < best.Key() {
			best = state
		}
	}
	return best
}
