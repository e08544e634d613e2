package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/subwatch/subwatch/internal/query"
	"github.com/subwatch/subwatch/internal/site"
	"github.com/subwatch/subwatch/internal/waitpool"
)

const (
	// sendAttempts bounds delivery retries per destination, flood waits
	// included.
	sendAttempts = 3
	// floodLogEvery is how often a long flood wait logs progress, in flood
	// units.
	floodLogEvery = 60
)

// errMediaMissing means a submission reached the sender with neither an
// uploaded handle nor a usable cache entry.
var errMediaMissing = errors.New("no media handle available")

// sender is the single worker that delivers finished submissions. It
// re-checks matches against the live store at send time, fans out to each
// destination, and advances the delivered watermark. Exactly one sender runs;
// in-order delivery depends on it.
type sender struct {
	w         *Watcher
	lastState *waitpool.CheckState
}

func (s *sender) name() string { return "sender" }

func (s *sender) doProcess(ctx context.Context) error {
	state := s.w.pool.PopNextReadyToSend()
	if state == nil {
		sleepCtx(ctx, queueBackoff)
		return nil
	}
	s.lastState = state

	start := time.Now()
	aborted, err := s.sendUpdates(ctx, state)
	if err != nil {
		return err
	}
	s.lastState = nil
	if aborted {
		return nil
	}
	s.w.metrics.ObserveStage("send", start)
	s.w.recordSent(state)
	return nil
}

// sendUpdates fans one submission out to every destination that still wants
// it. aborted means the state went back into the pool for a refresh and the
// watermark must not advance.
func (s *sender) sendUpdates(ctx context.Context, state *waitpool.CheckState) (aborted bool, err error) {
	target := query.TargetFromSubmission(state.FullData)
	byDest := s.w.store.RecheckMatches(state.Matching, target)
	dests := make([]int64, 0, len(byDest))
	for dest := range byDest {
		dests = append(dests, dest)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	now := time.Now().UTC()
	for _, dest := range dests {
		if state.WasSentTo(dest) {
			continue
		}
		sent, abort, err := s.sendToDest(ctx, state, dest, updatePrefix(byDest[dest]))
		if abort || err != nil {
			return abort, err
		}
		if sent {
			state.SentTo = append(state.SentTo, dest)
			s.w.store.MarkSent(state.Matching, dest, now)
		}
	}
	return false, nil
}

// sendToDest delivers to one destination with bounded retries.
func (s *sender) sendToDest(ctx context.Context, state *waitpool.CheckState, dest int64, prefix string) (sent, abort bool, err error) {
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		err := s.sendOne(ctx, state, dest, prefix)
		if err == nil {
			return true, false, nil
		}
		var gone *site.DestinationGoneError
		if errors.As(err, &gone) {
			log.Printf("subwatch[sender]: destination %d unreachable (%s), pausing its subscriptions",
				dest, gone.Reason)
			s.w.metrics.DestinationsGone.Inc()
			s.w.store.MarkDestinationPaused(dest)
			return false, false, nil
		}
		var flood *site.FloodWaitError
		if errors.As(err, &flood) {
			s.w.metrics.FloodWaits.Inc()
			if !s.floodWait(ctx, flood.Seconds) {
				return false, false, ErrShutdown
			}
			continue
		}
		if errors.Is(err, site.ErrFilePartMissing) || errors.Is(err, errMediaMissing) {
			log.Printf("subwatch[sender]: media handle for %s unusable, re-fetching", state.ID)
			s.requeueForRefresh(state)
			return false, true, nil
		}
		s.w.metrics.SendFailures.Inc()
		return false, false, fmt.Errorf("sending %s to %d: %w", state.ID, dest, err)
	}
	log.Printf("subwatch[sender]: giving up on %s to destination %d after %d attempts",
		state.ID, dest, sendAttempts)
	s.w.metrics.SendFailures.Inc()
	return false, false, nil
}

// sendOne tries a single delivery, preferring the cached handle, then the
// uploaded one, then a fresh cache lookup (a concurrent run may have
// delivered this submission since the upload stage checked).
func (s *sender) sendOne(ctx context.Context, state *waitpool.CheckState, dest int64, prefix string) error {
	if state.CacheEntry != nil {
		ok, err := s.w.platform.ResendCached(ctx, dest, prefix, state.CacheEntry)
		if err != nil || ok {
			return err
		}
		// Stale cached handle; fall through to the other sources.
	}
	if state.Uploaded == nil {
		if entry := s.w.cache.Load(ctx, state.ID); entry != nil && entry != state.CacheEntry {
			ok, err := s.w.platform.ResendCached(ctx, dest, prefix, entry)
			if err != nil {
				return err
			}
			if ok {
				state.CacheEntry = entry
				return nil
			}
		}
		return errMediaMissing
	}
	sentSub, err := s.w.platform.SendMessage(ctx, dest, prefix, state.FullData, state.Uploaded)
	if err != nil {
		return err
	}
	if sentSub != nil && !state.Uploaded.NoMedia() {
		s.w.cache.Save(ctx, sentSub)
	}
	return nil
}

// requeueForRefresh puts the popped state back and reverts it to the fetch
// stage, preserving the destinations already delivered to.
func (s *sender) requeueForRefresh(state *waitpool.CheckState) {
	s.w.pool.ReturnPopulatedState(state)
	err := s.w.pool.RevertDataFetch(state.ID)
	if err == nil {
		return
	}
	var tooMany *waitpool.TooManyRefreshError
	if errors.As(err, &tooMany) {
		log.Printf("subwatch[sender]: %s exhausted its refresh budget, dropping", state.ID)
		if rmErr := s.w.pool.RemoveState(state.ID); rmErr != nil {
			log.Printf("subwatch[sender]: removing %s: %v", state.ID, rmErr)
		}
		return
	}
	log.Printf("subwatch[sender]: reverting %s: %v", state.ID, err)
}

// floodWait honours a platform flood restriction, logging progress during
// long waits. Reports false when cancelled.
func (s *sender) floodWait(ctx context.Context, seconds int) bool {
	unit := s.w.floodUnit
	remaining := time.Duration(seconds) * unit
	log.Printf("subwatch[sender]: flood wait for %d seconds", seconds)
	for remaining > 0 {
		chunk := floodLogEvery * unit
		if remaining < chunk {
			chunk = remaining
		}
		if !sleepCtx(ctx, chunk) {
			return false
		}
		remaining -= chunk
		if remaining > 0 {
			log.Printf("subwatch[sender]: still in flood wait, %s remaining", remaining)
		}
	}
	return true
}

func (s *sender) revertLastAttempt() {
	if s.lastState == nil {
		return
	}
	s.w.pool.ReturnPopulatedState(s.lastState)
	s.lastState = nil
}

// updatePrefix builds the message header naming the subscriptions that
// matched for this destination.
func updatePrefix(queries []string) string {
	quoted := make([]string, len(queries))
	for i, q := range queries {
		quoted[i] = fmt.Sprintf("%q", q)
	}
	return fmt.Sprintf("Update on %s subscription(s):", strings.Join(quoted, ", "))
}
