package subscription

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/subwatch/subwatch/internal/query"
)

// Store is the live set of subscriptions and blocklists across all
// destinations. One mutex guards everything: the match hot path only reads,
// and management commands are rare.
type Store struct {
	mu         sync.Mutex
	subs       map[Key]*Subscription
	blocklists map[int64]*DestinationBlocklist
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		subs:       make(map[Key]*Subscription),
		blocklists: make(map[int64]*DestinationBlocklist),
	}
}

// Add inserts a subscription. Returns ErrExists if the destination already
// has one with the same case-folded query.
func (s *Store) Add(sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sub.Key()
	if _, ok := s.subs[key]; ok {
		return fmt.Errorf("%q in destination %d: %w", sub.QueryStr, sub.Destination, ErrExists)
	}
	s.subs[key] = sub
	return nil
}

// Remove deletes the destination's subscription for the query.
func (s *Store) Remove(queryStr string, destination int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key{Query: foldQuery(queryStr), Destination: destination}
	if _, ok := s.subs[key]; !ok {
		return fmt.Errorf("%q in destination %d: %w", queryStr, destination, ErrNotFound)
	}
	delete(s.subs, key)
	return nil
}

// Len returns the total number of subscriptions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// List returns copies of the destination's subscriptions, sorted by
// case-folded query string.
func (s *Store) List(destination int64) []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Subscription
	for _, sub := range s.subs {
		if sub.Destination == destination {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return foldQuery(out[i].QueryStr) < foldQuery(out[j].QueryStr)
	})
	return out
}

// ─── Pause and resume ────────────────────────────────────────────────────────

// PauseSubscription pauses one subscription. Returns ErrNotFound if absent,
// ErrAlreadyPaused if it is paused already.
func (s *Store) PauseSubscription(queryStr string, destination int64) error {
	return s.setPaused(queryStr, destination, true)
}

// ResumeSubscription resumes one subscription. Returns ErrNotFound if
// absent, ErrAlreadyRunning if it is not paused.
func (s *Store) ResumeSubscription(queryStr string, destination int64) error {
	return s.setPaused(queryStr, destination, false)
}

func (s *Store) setPaused(queryStr string, destination int64, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key{Query: foldQuery(queryStr), Destination: destination}
	sub, ok := s.subs[key]
	if !ok {
		return fmt.Errorf("%q in destination %d: %w", queryStr, destination, ErrNotFound)
	}
	if sub.Paused == paused {
		if paused {
			return ErrAlreadyPaused
		}
		return ErrAlreadyRunning
	}
	sub.Paused = paused
	return nil
}

// PauseDestination pauses every subscription of a destination. Returns
// ErrNotFound when the destination has none, ErrAlreadyPaused when all of
// them are already paused.
func (s *Store) PauseDestination(destination int64) error {
	return s.setDestinationPaused(destination, true)
}

// ResumeDestination resumes every subscription of a destination. Returns
// ErrNotFound when the destination has none, ErrAlreadyRunning when none of
// them is paused.
func (s *Store) ResumeDestination(destination int64) error {
	return s.setDestinationPaused(destination, false)
}

func (s *Store) setDestinationPaused(destination int64, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var targets []*Subscription
	changed := false
	for _, sub := range s.subs {
		if sub.Destination != destination {
			continue
		}
		targets = append(targets, sub)
		if sub.Paused != paused {
			changed = true
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("destination %d: %w", destination, ErrNotFound)
	}
	if !changed {
		if paused {
			return ErrAlreadyPaused
		}
		return ErrAlreadyRunning
	}
	for _, sub := range targets {
		sub.Paused = paused
	}
	return nil
}

// MarkDestinationPaused pauses every subscription of a destination without
// precondition checks. The sender calls this when the platform reports the
// destination gone, so pausing an already-paused set is fine.
func (s *Store) MarkDestinationPaused(destination int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.Destination == destination {
			sub.Paused = true
		}
	}
}

// ─── Blocklists ──────────────────────────────────────────────────────────────

// AddBlock parses and adds a block query to the destination's blocklist.
func (s *Store) AddBlock(destination int64, queryStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocklists[destination]
	if !ok {
		b = NewBlocklist(destination)
		s.blocklists[destination] = b
	}
	return b.Add(queryStr)
}

// RemoveBlock removes a block query from the destination's blocklist.
func (s *Store) RemoveBlock(destination int64, queryStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocklists[destination]
	if !ok {
		return fmt.Errorf("destination %d: %w", destination, ErrNotFound)
	}
	return b.Remove(queryStr)
}

// Blocks returns the destination's block query strings in sorted order.
func (s *Store) Blocks(destination int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocklists[destination]
	if !ok {
		return nil
	}
	return b.Queries()
}

// ─── Matching ────────────────────────────────────────────────────────────────

// MatchingSubscriptions evaluates every subscription against the target and
// returns the keys of those that match, honouring pauses and per-destination
// blocklists.
func (s *Store) MatchingSubscriptions(t *query.QueryTarget) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Key
	for key, sub := range s.subs {
		var block query.Query
		if b, ok := s.blocklists[sub.Destination]; ok {
			block = b.CombinedQuery()
		}
		if sub.Matches(t, block) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Destination != out[j].Destination {
			return out[i].Destination < out[j].Destination
		}
		return out[i].Query < out[j].Query
	})
	return out
}

// RecheckMatches re-evaluates a prior match list against the live store at
// send time: subscriptions removed or paused since the match are dropped,
// and current blocklists are re-applied. Returns the winning subscriptions'
// query strings grouped by destination, sorted within each destination.
func (s *Store) RecheckMatches(matched []Key, t *query.QueryTarget) map[int64][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]string)
	for _, key := range matched {
		sub, ok := s.subs[key]
		if !ok {
			continue
		}
		var block query.Query
		if b, ok := s.blocklists[sub.Destination]; ok {
			block = b.CombinedQuery()
		}
		if !sub.Matches(t, block) {
			continue
		}
		out[sub.Destination] = append(out[sub.Destination], sub.QueryStr)
	}
	for dest := range out {
		sort.Strings(out[dest])
	}
	return out
}

// MarkSent records a delivery to one destination: every matched subscription
// of that destination gets its LatestUpdate advanced to at.
func (s *Store) MarkSent(matched []Key, destination int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range matched {
		sub, ok := s.subs[key]
		if !ok || sub.Destination != destination {
			continue
		}
		if at.After(sub.LatestUpdate) {
			sub.LatestUpdate = at
		}
	}
}
