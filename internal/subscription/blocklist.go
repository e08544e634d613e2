package subscription

import (
	"fmt"
	"sort"

	"github.com/subwatch/subwatch/internal/query"
)

// DestinationBlocklist is one destination's set of block queries. A
// submission matching any block query is never delivered to the destination,
// whichever subscription matched it.
type DestinationBlocklist struct {
	Destination int64

	entries map[string]query.Query

	// combined caches the AND-of-NOTs form consumed by the match hot path.
	// It is nil both before first use and when the blocklist is empty.
	combined      query.Query
	combinedValid bool
}

// NewBlocklist returns an empty blocklist for a destination.
func NewBlocklist(destination int64) *DestinationBlocklist {
	return &DestinationBlocklist{
		Destination: destination,
		entries:     make(map[string]query.Query),
	}
}

// Add parses and inserts a block query. Re-adding an existing query is a
// no-op.
func (b *DestinationBlocklist) Add(queryStr string) error {
	q, err := query.ParseQuery(queryStr)
	if err != nil {
		return fmt.Errorf("blocklist %q: %w", queryStr, err)
	}
	b.entries[queryStr] = q
	b.combinedValid = false
	return nil
}

// Remove deletes a block query. Returns ErrNotFound if it was never added.
func (b *DestinationBlocklist) Remove(queryStr string) error {
	if _, ok := b.entries[queryStr]; !ok {
		return fmt.Errorf("blocklist %q: %w", queryStr, ErrNotFound)
	}
	delete(b.entries, queryStr)
	b.combinedValid = false
	return nil
}

// Len returns the number of block queries.
func (b *DestinationBlocklist) Len() int {
	return len(b.entries)
}

// Queries returns the block query strings in sorted order.
func (b *DestinationBlocklist) Queries() []string {
	out := make([]string, 0, len(b.entries))
	for q := range b.entries {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// CombinedQuery returns the blocklist as a single query matching exactly the
// submissions that no block query matches, or nil when the blocklist is
// empty. The result is cached until the next mutation.
func (b *DestinationBlocklist) CombinedQuery() query.Query {
	if b.combinedValid {
		return b.combined
	}
	b.combinedValid = true
	if len(b.entries) == 0 {
		b.combined = nil
		return nil
	}
	subs := make([]query.Query, 0, len(b.entries))
	for _, q := range b.Queries() {
		subs = append(subs, &query.NotQuery{Sub: b.entries[q]})
	}
	b.combined = query.NewAndQuery(subs)
	return b.combined
}
