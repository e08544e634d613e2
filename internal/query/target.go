package query

import (
	"fmt"
	"strings"

	"github.com/subwatch/subwatch/internal/site"
)

// Field selects which part of a submission a query term applies to.
// AnyField is the concatenation of all four.
type Field int

const (
	AnyField Field = iota
	TitleField
	DescriptionField
	KeywordField
	ArtistField
	numFields
)

func (f Field) String() string {
	switch f {
	case TitleField:
		return "title"
	case DescriptionField:
		return "description"
	case KeywordField:
		return "keywords"
	case ArtistField:
		return "artist"
	}
	return "any"
}

// TextSegment is one raw text value of a field, tagged with its location for
// span-overlap checks.
type TextSegment struct {
	Loc  FieldLocation
	Text string
}

// fieldView is the derived, evaluable projection of one field: its cleaned
// word list, its raw text values, and its located text segments.
type fieldView struct {
	words    []string
	texts    []string
	segments []TextSegment
}

// QueryTarget is the evaluable projection of a submission. Derived views are
// computed once at construction and shared by every query evaluated against
// the target, which is what makes the many-subscriptions hot path cheap.
type QueryTarget struct {
	SubID  site.SubmissionID
	Rating site.Rating

	views [numFields]fieldView
}

// NewTarget builds a QueryTarget from the raw field values. Title,
// description and artist values are tokenized; keywords are already single
// tokens and are only lowercased.
func NewTarget(id site.SubmissionID, title, description, keywords, artist []string, rating site.Rating) *QueryTarget {
	t := &QueryTarget{SubID: id, Rating: rating}
	t.views[TitleField] = tokenizedView("title", title)
	t.views[DescriptionField] = tokenizedView("description", description)
	t.views[KeywordField] = listView("keyword", keywords, true)
	t.views[ArtistField] = listView("artist", artist, false)

	var any fieldView
	for _, f := range []Field{TitleField, DescriptionField, KeywordField, ArtistField} {
		v := t.views[f]
		any.words = append(any.words, v.words...)
		any.texts = append(any.texts, v.texts...)
		any.segments = append(any.segments, v.segments...)
	}
	t.views[AnyField] = any
	return t
}

// TargetFromSubmission projects fetched submission metadata onto a target.
func TargetFromSubmission(sub *site.FullSubmission) *QueryTarget {
	return NewTarget(
		sub.ID,
		[]string{sub.Title},
		sub.Description,
		sub.Keywords,
		[]string{sub.Artist},
		sub.Rating,
	)
}

// Words returns the cleaned word tokens of a field.
func (t *QueryTarget) Words(f Field) []string {
	return t.views[f].words
}

// Texts returns the raw text values of a field.
func (t *QueryTarget) Texts(f Field) []string {
	return t.views[f].texts
}

// Segments returns the located text segments of a field.
func (t *QueryTarget) Segments(f Field) []TextSegment {
	return t.views[f].segments
}

// tokenizedView derives a view for a free-text field: each value is split
// into cleaned word tokens.
func tokenizedView(tag string, values []string) fieldView {
	v := fieldView{texts: values}
	for i, val := range values {
		v.words = append(v.words, tokenize(val)...)
		v.segments = append(v.segments, TextSegment{
			Loc:  FieldLocation(fmt.Sprintf("%s_%d", tag, i)),
			Text: val,
		})
	}
	return v
}

// listView derives a view for a field whose values are each a single
// already-tokenized word (keywords, artist names): lowercased, no splitting.
// Keywords additionally have residual punctuation stripped.
func listView(tag string, values []string, clean bool) fieldView {
	v := fieldView{texts: values}
	if clean {
		v.words = cleanWords(values)
	} else {
		for _, val := range values {
			v.words = append(v.words, strings.ToLower(val))
		}
	}
	for i, val := range values {
		v.segments = append(v.segments, TextSegment{
			Loc:  FieldLocation(fmt.Sprintf("%s_%d", tag, i)),
			Text: val,
		})
	}
	return v
}
