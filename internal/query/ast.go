package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/subwatch/subwatch/internal/site"
)

// MatchLocation is one match span: a half-open range within a single text
// segment. Two spans overlap only within the same FieldLocation.
type MatchLocation struct {
	Field FieldLocation
	Start int
	End   int
}

// Overlaps reports whether the two half-open spans intersect in the same
// field location.
func (l MatchLocation) Overlaps(other MatchLocation) bool {
	if l.Field != other.Field {
		return false
	}
	if l.Start < other.Start {
		return l.End > other.Start
	}
	return other.End > l.Start
}

// OverlapsAny reports whether l overlaps any of the given spans.
func (l MatchLocation) OverlapsAny(others []MatchLocation) bool {
	for _, o := range others {
		if l.Overlaps(o) {
			return true
		}
	}
	return false
}

// Query is one node of a parsed subscription query.
type Query interface {
	// MatchesTarget evaluates the query against a submission's projection.
	MatchesTarget(t *QueryTarget) bool
	// Equal reports structural equality with another query.
	Equal(other Query) bool
	// String renders the query in canonical, re-parseable form.
	String() string
}

// LocationQuery is the subset of queries that can report where they matched.
// Location semantics drive the EXCEPT operator.
type LocationQuery interface {
	Query
	MatchLocations(t *QueryTarget) []MatchLocation
}

// ─── Word ────────────────────────────────────────────────────────────────────

// WordQuery matches a submission whose field word list contains the word.
type WordQuery struct {
	Word  string
	Field Field

	locRE *regexp.Regexp
}

// NewWordQuery builds a word query. The word is compared case-insensitively
// against the cleaned token list.
func NewWordQuery(word string, field Field) *WordQuery {
	return &WordQuery{
		Word:  word,
		Field: field,
		locRE: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(word)),
	}
}

func (q *WordQuery) MatchesTarget(t *QueryTarget) bool {
	w := strings.ToLower(q.Word)
	for _, word := range t.Words(q.Field) {
		if word == w {
			return true
		}
	}
	return false
}

func (q *WordQuery) MatchLocations(t *QueryTarget) []MatchLocation {
	var out []MatchLocation
	for _, seg := range t.Segments(q.Field) {
		out = append(out, findBoundedSpans(q.locRE, seg.Loc, seg.Text)...)
	}
	return out
}

func (q *WordQuery) Equal(other Query) bool {
	o, ok := other.(*WordQuery)
	return ok && q.Word == o.Word && q.Field == o.Field
}

func (q *WordQuery) String() string {
	if q.Field == AnyField {
		return q.Word
	}
	return fmt.Sprintf("%s:%s", q.Field, q.Word)
}

// ─── Prefix / Suffix ─────────────────────────────────────────────────────────

// PrefixQuery matches any word that starts with the prefix and is strictly
// longer than it.
type PrefixQuery struct {
	Prefix string
	Field  Field

	locRE *regexp.Regexp
}

func NewPrefixQuery(prefix string, field Field) *PrefixQuery {
	return &PrefixQuery{
		Prefix: prefix,
		Field:  field,
		locRE:  regexp.MustCompile(`(?i)` + regexp.QuoteMeta(prefix) + notPunctPattern),
	}
}

func (q *PrefixQuery) MatchesTarget(t *QueryTarget) bool {
	p := strings.ToLower(q.Prefix)
	for _, word := range t.Words(q.Field) {
		if strings.HasPrefix(word, p) && word != p {
			return true
		}
	}
	return false
}

func (q *PrefixQuery) MatchLocations(t *QueryTarget) []MatchLocation {
	var out []MatchLocation
	for _, seg := range t.Segments(q.Field) {
		out = append(out, findBoundedSpans(q.locRE, seg.Loc, seg.Text)...)
	}
	return out
}

func (q *PrefixQuery) Equal(other Query) bool {
	o, ok := other.(*PrefixQuery)
	return ok && q.Prefix == o.Prefix && q.Field == o.Field
}

func (q *PrefixQuery) String() string {
	if q.Field == AnyField {
		return q.Prefix + "*"
	}
	return fmt.Sprintf("%s:%s*", q.Field, q.Prefix)
}

// SuffixQuery matches any word that ends with the suffix and is strictly
// longer than it.
type SuffixQuery struct {
	Suffix string
	Field  Field

	locRE *regexp.Regexp
}

func NewSuffixQuery(suffix string, field Field) *SuffixQuery {
	return &SuffixQuery{
		Suffix: suffix,
		Field:  field,
		locRE:  regexp.MustCompile(`(?i)` + notPunctPattern + regexp.QuoteMeta(suffix)),
	}
}

func (q *SuffixQuery) MatchesTarget(t *QueryTarget) bool {
	s := strings.ToLower(q.Suffix)
	for _, word := range t.Words(q.Field) {
		if strings.HasSuffix(word, s) && word != s {
			return true
		}
	}
	return false
}

func (q *SuffixQuery) MatchLocations(t *QueryTarget) []MatchLocation {
	var out []MatchLocation
	for _, seg := range t.Segments(q.Field) {
		out = append(out, findBoundedSpans(q.locRE, seg.Loc, seg.Text)...)
	}
	return out
}

func (q *SuffixQuery) Equal(other Query) bool {
	o, ok := other.(*SuffixQuery)
	return ok && q.Suffix == o.Suffix && q.Field == o.Field
}

func (q *SuffixQuery) String() string {
	if q.Field == AnyField {
		return "*" + q.Suffix
	}
	return fmt.Sprintf("%s:*%s", q.Field, q.Suffix)
}

// ─── Regex ───────────────────────────────────────────────────────────────────

// RegexQuery matches words against a pattern assembled from a term with
// embedded wildcards, e.g. "f*x". Raw preserves the original spelling so the
// query renders back to what the user typed.
type RegexQuery struct {
	Raw   string
	Field Field

	wordRE *regexp.Regexp
	locRE  *regexp.Regexp
}

var asteriskRunRE = regexp.MustCompile(`\*+`)

// NewRegexQueryFromWildcards builds a regex query from a word containing
// embedded asterisks: literal parts joined by runs of non-separator
// characters, anchored to word boundaries.
func NewRegexQueryFromWildcards(word string, field Field) *RegexQuery {
	parts := asteriskRunRE.Split(word, -1)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	inner := strings.Join(parts, notPunctPattern)
	return &RegexQuery{
		Raw:    word,
		Field:  field,
		wordRE: regexp.MustCompile(`(?i)^(?:` + inner + `)$`),
		locRE:  regexp.MustCompile(`(?i)` + inner),
	}
}

func (q *RegexQuery) MatchesTarget(t *QueryTarget) bool {
	for _, word := range t.Words(q.Field) {
		if q.wordRE.MatchString(word) {
			return true
		}
	}
	return false
}

func (q *RegexQuery) MatchLocations(t *QueryTarget) []MatchLocation {
	var out []MatchLocation
	for _, seg := range t.Segments(q.Field) {
		out = append(out, findBoundedSpans(q.locRE, seg.Loc, seg.Text)...)
	}
	return out
}

func (q *RegexQuery) Equal(other Query) bool {
	o, ok := other.(*RegexQuery)
	return ok && q.Raw == o.Raw && q.Field == o.Field
}

func (q *RegexQuery) String() string {
	if q.Field == AnyField {
		return q.Raw
	}
	return fmt.Sprintf("%s:%s", q.Field, q.Raw)
}

// ─── Phrase ──────────────────────────────────────────────────────────────────

// PhraseQuery matches the quoted phrase anywhere in a field's full text,
// anchored to word boundaries on both sides.
type PhraseQuery struct {
	Phrase string
	Field  Field

	re *regexp.Regexp
}

func NewPhraseQuery(phrase string, field Field) *PhraseQuery {
	return &PhraseQuery{
		Phrase: phrase,
		Field:  field,
		re:     regexp.MustCompile(`(?i)` + regexp.QuoteMeta(phrase)),
	}
}

func (q *PhraseQuery) MatchesTarget(t *QueryTarget) bool {
	for _, text := range t.Texts(q.Field) {
		for _, m := range q.re.FindAllStringIndex(text, -1) {
			if boundedAt(text, m[0], m[1]) {
				return true
			}
		}
	}
	return false
}

func (q *PhraseQuery) MatchLocations(t *QueryTarget) []MatchLocation {
	var out []MatchLocation
	for _, seg := range t.Segments(q.Field) {
		out = append(out, findBoundedSpans(q.re, seg.Loc, seg.Text)...)
	}
	return out
}

func (q *PhraseQuery) Equal(other Query) bool {
	o, ok := other.(*PhraseQuery)
	return ok && q.Phrase == o.Phrase && q.Field == o.Field
}

func (q *PhraseQuery) String() string {
	quoted := `"` + strings.ReplaceAll(q.Phrase, `"`, `\"`) + `"`
	if q.Field == AnyField {
		return quoted
	}
	return fmt.Sprintf("%s:%s", q.Field, quoted)
}

// ─── Rating ──────────────────────────────────────────────────────────────────

// RatingQuery matches on submission rating equality.
type RatingQuery struct {
	Rating site.Rating
}

func (q *RatingQuery) MatchesTarget(t *QueryTarget) bool {
	return t.Rating == q.Rating
}

func (q *RatingQuery) Equal(other Query) bool {
	o, ok := other.(*RatingQuery)
	return ok && q.Rating == o.Rating
}

func (q *RatingQuery) String() string {
	return "rating:" + q.Rating.String()
}

// ─── Boolean connectives ─────────────────────────────────────────────────────

// NotQuery inverts its operand.
type NotQuery struct {
	Sub Query
}

func (q *NotQuery) MatchesTarget(t *QueryTarget) bool {
	return !q.Sub.MatchesTarget(t)
}

func (q *NotQuery) Equal(other Query) bool {
	o, ok := other.(*NotQuery)
	return ok && q.Sub.Equal(o.Sub)
}

func (q *NotQuery) String() string {
	return "-" + q.Sub.String()
}

// AndQuery matches when all children match. Same-kind children are flattened
// at construction.
type AndQuery struct {
	Subs []Query
}

func NewAndQuery(subs []Query) *AndQuery {
	q := &AndQuery{}
	for _, s := range subs {
		if a, ok := s.(*AndQuery); ok {
			q.Subs = append(q.Subs, a.Subs...)
		} else {
			q.Subs = append(q.Subs, s)
		}
	}
	return q
}

func (q *AndQuery) MatchesTarget(t *QueryTarget) bool {
	for _, s := range q.Subs {
		if !s.MatchesTarget(t) {
			return false
		}
	}
	return true
}

func (q *AndQuery) Equal(other Query) bool {
	o, ok := other.(*AndQuery)
	if !ok || len(q.Subs) != len(o.Subs) {
		return false
	}
	for i := range q.Subs {
		if !q.Subs[i].Equal(o.Subs[i]) {
			return false
		}
	}
	return true
}

func (q *AndQuery) String() string {
	parts := make([]string, len(q.Subs))
	for i, s := range q.Subs {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// OrQuery matches when any child matches. Same-kind children are flattened
// at construction.
type OrQuery struct {
	Subs []Query
}

func NewOrQuery(subs []Query) *OrQuery {
	q := &OrQuery{}
	for _, s := range subs {
		if o, ok := s.(*OrQuery); ok {
			q.Subs = append(q.Subs, o.Subs...)
		} else {
			q.Subs = append(q.Subs, s)
		}
	}
	return q
}

func (q *OrQuery) MatchesTarget(t *QueryTarget) bool {
	for _, s := range q.Subs {
		if s.MatchesTarget(t) {
			return true
		}
	}
	return false
}

func (q *OrQuery) Equal(other Query) bool {
	o, ok := other.(*OrQuery)
	if !ok || len(q.Subs) != len(o.Subs) {
		return false
	}
	for i := range q.Subs {
		if !q.Subs[i].Equal(o.Subs[i]) {
			return false
		}
	}
	return true
}

func (q *OrQuery) String() string {
	parts := make([]string, len(q.Subs))
	for i, s := range q.Subs {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// LocationOrQuery is an OR over location-producing queries, itself
// location-producing. Used for the bracketed exclusion lists of EXCEPT.
type LocationOrQuery struct {
	Subs []LocationQuery
}

func NewLocationOrQuery(subs []LocationQuery) *LocationOrQuery {
	q := &LocationOrQuery{}
	for _, s := range subs {
		if o, ok := s.(*LocationOrQuery); ok {
			q.Subs = append(q.Subs, o.Subs...)
		} else {
			q.Subs = append(q.Subs, s)
		}
	}
	return q
}

func (q *LocationOrQuery) MatchesTarget(t *QueryTarget) bool {
	for _, s := range q.Subs {
		if s.MatchesTarget(t) {
			return true
		}
	}
	return false
}

func (q *LocationOrQuery) MatchLocations(t *QueryTarget) []MatchLocation {
	seen := make(map[MatchLocation]struct{})
	for _, s := range q.Subs {
		for _, loc := range s.MatchLocations(t) {
			seen[loc] = struct{}{}
		}
	}
	out := make([]MatchLocation, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

func (q *LocationOrQuery) Equal(other Query) bool {
	o, ok := other.(*LocationOrQuery)
	if !ok || len(q.Subs) != len(o.Subs) {
		return false
	}
	for i := range q.Subs {
		if !q.Subs[i].Equal(o.Subs[i]) {
			return false
		}
	}
	return true
}

func (q *LocationOrQuery) String() string {
	if len(q.Subs) == 1 {
		return q.Subs[0].String()
	}
	parts := make([]string, len(q.Subs))
	for i, s := range q.Subs {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// ─── Exception ───────────────────────────────────────────────────────────────

// ExceptionQuery matches when some match span of Word does not overlap any
// match span of Except within the same field location. Both operands must be
// location-producing, which the parser enforces at construction.
type ExceptionQuery struct {
	Word   LocationQuery
	Except LocationQuery
}

func (q *ExceptionQuery) MatchesTarget(t *QueryTarget) bool {
	wordLocs := q.Word.MatchLocations(t)
	if len(wordLocs) == 0 {
		return false
	}
	exceptLocs := q.Except.MatchLocations(t)
	for _, loc := range wordLocs {
		if !loc.OverlapsAny(exceptLocs) {
			return true
		}
	}
	return false
}

func (q *ExceptionQuery) Equal(other Query) bool {
	o, ok := other.(*ExceptionQuery)
	return ok && q.Word.Equal(o.Word) && q.Except.Equal(o.Except)
}

func (q *ExceptionQuery) String() string {
	return fmt.Sprintf("%s EXCEPT %s", q.Word, q.Except)
}
