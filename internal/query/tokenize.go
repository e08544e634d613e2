// Package query implements the boolean subscription query language: the
// tokenizer, the query AST and evaluator, and the parser. Queries are exact,
// deterministic and case-insensitive on word tokens.
package query

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// punctuation is the ASCII punctuation set minus "-" and "_", which are
// treated as word characters. Together with Unicode whitespace it forms the
// separator class for word tokenization and match-span boundaries.
const punctuation = "!\"#$%&'()*+,./:;<=>?@[\\]^`{|}~"

var (
	punctClass      = `[\s` + regexp.QuoteMeta(punctuation) + `]`
	notPunctPattern = `[^\s` + regexp.QuoteMeta(punctuation) + `]+`

	punctSplitRE = regexp.MustCompile(punctClass + `+`)
)

// FieldLocation names one text segment of a submission, e.g. "title_0" or
// "keyword_3". Match spans are only comparable within the same location.
type FieldLocation string

func isSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	return r < utf8.RuneSelf && strings.ContainsRune(punctuation, r)
}

// splitWords splits text on runs of separator characters.
func splitWords(text string) []string {
	return punctSplitRE.Split(text, -1)
}

// cleanWords lowercases each word and strips residual leading/trailing
// punctuation, dropping words that clean down to nothing.
func cleanWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(strings.ToLower(w), punctuation)
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// tokenize splits text into cleaned, case-folded word tokens.
func tokenize(text string) []string {
	return cleanWords(splitWords(text))
}

// boundedAt reports whether the half-open span [start, end) of text sits on
// word boundaries: each side is the text edge or a separator character. This
// replaces the lookaround boundary anchors of the span regexes, which RE2
// does not support.
func boundedAt(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if !isSeparator(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if !isSeparator(r) {
			return false
		}
	}
	return true
}

// findBoundedSpans runs re over text and keeps only the boundary-anchored
// matches, tagging each with loc.
func findBoundedSpans(re *regexp.Regexp, loc FieldLocation, text string) []MatchLocation {
	var out []MatchLocation
	for _, m := range re.FindAllStringIndex(text, -1) {
		if boundedAt(text, m[0], m[1]) {
			out = append(out, MatchLocation{Field: loc, Start: m[0], End: m[1]})
		}
	}
	return out
}
