package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/subwatch/subwatch/internal/site"
)

// ErrInvalidQuery is wrapped by every parse failure.
var ErrInvalidQuery = errors.New("invalid query")

var ratingNames = map[string]site.Rating{
	"general":      site.RatingGeneral,
	"safe":         site.RatingGeneral,
	"mature":       site.RatingMature,
	"questionable": site.RatingMature,
	"adult":        site.RatingAdult,
	"explicit":     site.RatingAdult,
}

var reservedWords = map[string]bool{
	"not":    true,
	"and":    true,
	"or":     true,
	"except": true,
	"ignore": true,
}

type parseResult struct {
	query Query
	err   error
}

// Parsed queries are cached: the watcher re-parses the same subscription
// strings for every inbound submission.
var parseCache, _ = lru.New[string, parseResult](1024)

// ParseQuery parses a subscription query string into its evaluable form.
// Results, including failures, are cached by exact query string.
func ParseQuery(queryStr string) (Query, error) {
	if r, ok := parseCache.Get(queryStr); ok {
		return r.query, r.err
	}
	p := &parser{input: queryStr}
	q, err := p.parseAll()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	parseCache.Add(queryStr, parseResult{query: q, err: err})
	return q, err
}

// ─── Scanner ─────────────────────────────────────────────────────────────────

// parser is a single-pass cursor over the query string. Alternatives are
// tried in a fixed order with save/restore backtracking.
type parser struct {
	input string
	pos   int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

// isWordChar reports whether c can appear in a bare word term. Parentheses,
// colons and quotes structure the grammar; everything else printable,
// including multi-byte runes, is word material.
func isWordChar(c byte) bool {
	if c >= utf8.RuneSelf {
		return true
	}
	if c <= ' ' || c == 0x7f {
		return false
	}
	switch c {
	case '(', ')', ':', '"':
		return false
	}
	return true
}

func isKeywordChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '$':
		return true
	}
	return false
}

func (p *parser) readWord() (string, bool) {
	start := p.pos
	for !p.eof() && isWordChar(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", false
	}
	return p.input[start:p.pos], true
}

// keyword consumes one of the given caseless keywords if it appears at the
// cursor followed by a non-identifier character, and returns it lowercased.
func (p *parser) keyword(words ...string) (string, bool) {
	for _, w := range words {
		end := p.pos + len(w)
		if end > len(p.input) {
			continue
		}
		if !strings.EqualFold(p.input[p.pos:end], w) {
			continue
		}
		if end < len(p.input) && isKeywordChar(p.input[end]) {
			continue
		}
		p.pos = end
		return strings.ToLower(w), true
	}
	return "", false
}

// readQuoted consumes a double-quoted phrase. Backslash escapes the next
// character.
func (p *parser) readQuoted() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for !p.eof() {
		c := p.input[p.pos]
		switch c {
		case '\\':
			if p.pos+1 < len(p.input) {
				b.WriteByte(p.input[p.pos+1])
				p.pos += 2
				continue
			}
			p.pos++
		case '"':
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", errors.New("unterminated quoted phrase")
}

// ─── Grammar ─────────────────────────────────────────────────────────────────

func (p *parser) parseAll() (Query, error) {
	q, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, fmt.Errorf("unexpected input at position %d: %q", p.pos, p.input[p.pos:])
	}
	return q, nil
}

// parseExpr parses a sequence of full elements joined by optional "and"/"or"
// connectors, combined left to right. A missing connector means AND.
func (p *parser) parseExpr() (Query, error) {
	result, err := p.parseFullElement()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.eof() || p.peek() == ')' {
			return result, nil
		}
		conn, _ := p.keyword("or", "and")
		p.skipSpace()
		next, err := p.parseFullElement()
		if err != nil {
			return nil, err
		}
		if conn == "or" {
			result = NewOrQuery([]Query{result, next})
		} else {
			result = NewAndQuery([]Query{result, next})
		}
	}
}

// parseFullElement parses an optional negator followed by an element.
func (p *parser) parseFullElement() (Query, error) {
	p.skipSpace()
	negated := false
	switch p.peek() {
	case '!', '-':
		p.pos++
		negated = true
	default:
		if _, ok := p.keyword("not"); ok {
			negated = true
		}
	}
	p.skipSpace()
	elem, err := p.parseElement()
	if err != nil {
		return nil, err
	}
	if negated {
		return &NotQuery{Sub: elem}, nil
	}
	return elem, nil
}

func (p *parser) parseElement() (Query, error) {
	switch p.peek() {
	case '"':
		phrase, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		return NewPhraseQuery(phrase, AnyField), nil
	case '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, errors.New("missing closing bracket")
		}
		p.pos++
		return inner, nil
	}

	if q, ok, err := p.tryParseField(); ok || err != nil {
		return q, err
	}
	if q, ok, err := p.tryParseWordWithException(AnyField); ok || err != nil {
		return q, err
	}

	word, ok := p.readWord()
	if !ok {
		if p.eof() {
			return nil, errors.New("unexpected end of query")
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return parseWordTerm(word, AnyField)
}

// tryParseField recognises "@name value" and "name:value" forms. A failed
// structural match restores the cursor; a recognised field with a bad name or
// value is a hard error.
func (p *parser) tryParseField() (Query, bool, error) {
	save := p.pos
	var name string
	if p.peek() == '@' {
		p.pos++
		w, ok := p.readWord()
		if !ok {
			p.pos = save
			return nil, false, nil
		}
		name = w
	} else {
		w, ok := p.readWord()
		if !ok {
			return nil, false, nil
		}
		p.skipSpace()
		if p.peek() != ':' {
			p.pos = save
			return nil, false, nil
		}
		p.pos++
		name = w
	}
	p.skipSpace()

	if strings.EqualFold(name, "rating") {
		q, err := p.parseRatingValue()
		return q, true, err
	}
	field, err := fieldFromName(name)
	if err != nil {
		return nil, true, err
	}
	q, err := p.parseFieldValue(field)
	return q, true, err
}

func (p *parser) parseRatingValue() (Query, error) {
	if p.peek() == '"' {
		return nil, errors.New("rating value cannot be quoted")
	}
	word, ok := p.readWord()
	if !ok {
		return nil, errors.New("missing rating value")
	}
	rating, ok := ratingNames[strings.ToLower(word)]
	if !ok {
		return nil, fmt.Errorf("unrecognised rating value %q", word)
	}
	return &RatingQuery{Rating: rating}, nil
}

// parseFieldValue parses the value of a non-rating field: a quoted phrase, a
// word-with-exception (optionally bracketed), or a bare word term.
func (p *parser) parseFieldValue(field Field) (Query, error) {
	switch p.peek() {
	case '"':
		phrase, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		return NewPhraseQuery(phrase, field), nil
	case '(':
		p.pos++
		p.skipSpace()
		q, ok, err := p.tryParseWordWithException(field)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("bracketed field value must be a word with an exception")
		}
		p.skipSpace()
		if p.peek() != ')' {
			return nil, errors.New("missing closing bracket after field value")
		}
		p.pos++
		return q, nil
	}
	if q, ok, err := p.tryParseWordWithException(field); ok || err != nil {
		return q, err
	}
	word, ok := p.readWord()
	if !ok {
		return nil, errors.New("missing field value")
	}
	return parseWordTerm(word, field)
}

// tryParseWordWithException recognises `word except x` and `word ignore x`,
// where x is a single term or a bracketed OR list of terms.
func (p *parser) tryParseWordWithException(field Field) (Query, bool, error) {
	save := p.pos
	word, ok := p.readWord()
	if !ok {
		return nil, false, nil
	}
	p.skipSpace()
	if _, ok := p.keyword("except", "ignore"); !ok {
		p.pos = save
		return nil, false, nil
	}
	wordQ, err := parseWordTerm(word, field)
	if err != nil {
		return nil, true, err
	}
	exc, err := p.parseException(field)
	if err != nil {
		return nil, true, err
	}
	return &ExceptionQuery{Word: wordQ, Except: exc}, true, nil
}

// parseException parses the exclusion side of EXCEPT: one term, or a
// bracketed list of terms joined by optional "or" keywords.
func (p *parser) parseException(field Field) (LocationQuery, error) {
	p.skipSpace()
	if p.peek() != '(' {
		elem, err := p.parseExceptionElem(field)
		if err != nil {
			return nil, err
		}
		return NewLocationOrQuery([]LocationQuery{elem}), nil
	}
	p.pos++
	var elems []LocationQuery
	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			if len(elems) == 0 {
				return nil, errors.New("empty exception list")
			}
			return NewLocationOrQuery(elems), nil
		}
		if p.eof() {
			return nil, errors.New("missing closing bracket in exception list")
		}
		if len(elems) > 0 {
			p.keyword("or")
			p.skipSpace()
		}
		elem, err := p.parseExceptionElem(field)
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}
}

func (p *parser) parseExceptionElem(field Field) (LocationQuery, error) {
	if p.peek() == '"' {
		phrase, err := p.readQuoted()
		if err != nil {
			return nil, err
		}
		return NewPhraseQuery(phrase, field), nil
	}
	word, ok := p.readWord()
	if !ok {
		return nil, errors.New("missing exception term")
	}
	return parseWordTerm(word, field)
}

// parseWordTerm classifies a bare word: a leading asterisk makes a suffix
// query, a trailing one a prefix query, embedded asterisks a wildcard regex,
// anything else a plain word. Reserved keywords must be quoted to be
// searched for.
func parseWordTerm(word string, field Field) (LocationQuery, error) {
	if strings.HasPrefix(word, "*") && !strings.Contains(word[1:], "*") {
		return NewSuffixQuery(word[1:], field), nil
	}
	if strings.HasSuffix(word, "*") && !strings.Contains(word[:len(word)-1], "*") {
		return NewPrefixQuery(word[:len(word)-1], field), nil
	}
	if strings.Contains(word, "*") {
		return NewRegexQueryFromWildcards(word, field), nil
	}
	if reservedWords[strings.ToLower(word)] {
		return nil, fmt.Errorf("reserved keyword %q must be quoted to be searched for", word)
	}
	return NewWordQuery(word, field), nil
}

func fieldFromName(name string) (Field, error) {
	switch strings.ToLower(name) {
	case "title":
		return TitleField, nil
	case "desc", "description", "message":
		return DescriptionField, nil
	case "keyword", "keywords", "tag", "tags":
		return KeywordField, nil
	case "artist", "author", "poster", "lower", "uploader":
		return ArtistField, nil
	}
	return AnyField, fmt.Errorf("unrecognised field name %q", name)
}
