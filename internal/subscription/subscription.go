// Package subscription holds the subscription store: per-destination search
// subscriptions and blocklists, their persistence, and the management
// command surface that mutates them.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/cases"

	"github.com/subwatch/subwatch/internal/query"
)

var (
	ErrExists         = errors.New("subscription already exists")
	ErrNotFound       = errors.New("subscription not found")
	ErrAlreadyPaused  = errors.New("subscription already paused")
	ErrAlreadyRunning = errors.New("subscription already running")
)

// Key identifies a subscription: the case-folded query string plus the
// destination. Two subscriptions differing only in query case are the same
// subscription.
type Key struct {
	Query       string
	Destination int64
}

// Subscription is one destination's standing search. LatestUpdate is the
// time of the newest submission delivered for it; zero means never.
type Subscription struct {
	QueryStr     string
	Destination  int64
	LatestUpdate time.Time
	Paused       bool
	CreatedAt    time.Time
	CreatorID    int64

	query query.Query
}

// New parses the query string and builds a subscription. The query must be
// valid; parse failures wrap query.ErrInvalidQuery.
func New(queryStr string, destination int64) (*Subscription, error) {
	q, err := query.ParseQuery(queryStr)
	if err != nil {
		return nil, fmt.Errorf("subscription %q: %w", queryStr, err)
	}
	return &Subscription{
		QueryStr:    queryStr,
		Destination: destination,
		query:       q,
	}, nil
}

// foldQuery normalises a query string for identity comparison. Full Unicode
// case folding catches pairs plain lowercasing misses (ß/ẞ, İ).
func foldQuery(q string) string {
	return cases.Fold().String(q)
}

// Key returns the identity of this subscription.
func (s *Subscription) Key() Key {
	return Key{Query: foldQuery(s.QueryStr), Destination: s.Destination}
}

// Matches reports whether the submission matches this subscription, taking
// the destination's combined blocklist query into account. Paused
// subscriptions never match.
func (s *Subscription) Matches(t *query.QueryTarget, blocklist query.Query) bool {
	if s.Paused {
		return false
	}
	if !s.query.MatchesTarget(t) {
		return false
	}
	if blocklist != nil && !blocklist.MatchesTarget(t) {
		return false
	}
	return true
}

func (s *Subscription) String() string {
	state := ""
	if s.Paused {
		state = ", paused"
	}
	return fmt.Sprintf("Subscription(destination=%d, query=%q%s)", s.Destination, s.QueryStr, state)
}
