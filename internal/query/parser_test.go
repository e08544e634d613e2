package query

import (
	"errors"
	"testing"

	"github.com/subwatch/subwatch/internal/site"
)

func TestParseQuery_Structure(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Query
	}{
		{"single word", "fox", NewWordQuery("fox", AnyField)},
		{"implicit and", "red fox", NewAndQuery([]Query{
			NewWordQuery("red", AnyField),
			NewWordQuery("fox", AnyField),
		})},
		{"explicit and", "red and fox", NewAndQuery([]Query{
			NewWordQuery("red", AnyField),
			NewWordQuery("fox", AnyField),
		})},
		{"explicit or", "red or fox", NewOrQuery([]Query{
			NewWordQuery("red", AnyField),
			NewWordQuery("fox", AnyField),
		})},
		{"left fold", "a or b and c", NewAndQuery([]Query{
			NewOrQuery([]Query{
				NewWordQuery("a", AnyField),
				NewWordQuery("b", AnyField),
			}),
			NewWordQuery("c", AnyField),
		})},
		{"brackets", "a and (b or c)", NewAndQuery([]Query{
			NewWordQuery("a", AnyField),
			NewOrQuery([]Query{
				NewWordQuery("b", AnyField),
				NewWordQuery("c", AnyField),
			}),
		})},
		{"dash negation", "-fox", &NotQuery{Sub: NewWordQuery("fox", AnyField)}},
		{"bang negation", "!fox", &NotQuery{Sub: NewWordQuery("fox", AnyField)}},
		{"keyword negation", "not fox", &NotQuery{Sub: NewWordQuery("fox", AnyField)}},
		{"negated brackets", "!(a or b)", &NotQuery{Sub: NewOrQuery([]Query{
			NewWordQuery("a", AnyField),
			NewWordQuery("b", AnyField),
		})}},
		{"phrase", `"red fox"`, NewPhraseQuery("red fox", AnyField)},
		{"phrase with escaped quote", `"say \"hi\""`, NewPhraseQuery(`say "hi"`, AnyField)},
		{"colon field", "title:fox", NewWordQuery("fox", TitleField)},
		{"at field", "@artist fennec", NewWordQuery("fennec", ArtistField)},
		{"field alias", "tags:canine", NewWordQuery("canine", KeywordField)},
		{"field phrase", `title:"quick fox"`, NewPhraseQuery("quick fox", TitleField)},
		{"prefix", "fox*", NewPrefixQuery("fox", AnyField)},
		{"suffix", "*fox", NewSuffixQuery("fox", AnyField)},
		{"wildcard regex", "f*x", NewRegexQueryFromWildcards("f*x", AnyField)},
		{"field prefix", "artist:fen*", NewPrefixQuery("fen", ArtistField)},
		{"rating", "rating:general", &RatingQuery{Rating: site.RatingGeneral}},
		{"rating alias safe", "rating:safe", &RatingQuery{Rating: site.RatingGeneral}},
		{"rating alias questionable", "rating:questionable", &RatingQuery{Rating: site.RatingMature}},
		{"rating alias explicit", "rating:explicit", &RatingQuery{Rating: site.RatingAdult}},
		{"except single", "fox except fennec", &ExceptionQuery{
			Word:   NewWordQuery("fox", AnyField),
			Except: NewLocationOrQuery([]LocationQuery{NewWordQuery("fennec", AnyField)}),
		}},
		{"ignore alias", "fox ignore fennec", &ExceptionQuery{
			Word:   NewWordQuery("fox", AnyField),
			Except: NewLocationOrQuery([]LocationQuery{NewWordQuery("fennec", AnyField)}),
		}},
		{"except list", "fox except (fennec or arctic)", &ExceptionQuery{
			Word: NewWordQuery("fox", AnyField),
			Except: NewLocationOrQuery([]LocationQuery{
				NewWordQuery("fennec", AnyField),
				NewWordQuery("arctic", AnyField),
			}),
		}},
		{"except phrase", `fox except "fox spirit"`, &ExceptionQuery{
			Word:   NewWordQuery("fox", AnyField),
			Except: NewLocationOrQuery([]LocationQuery{NewPhraseQuery("fox spirit", AnyField)}),
		}},
		{"field except", "title:(fox except fennec)", &ExceptionQuery{
			Word:   NewWordQuery("fox", TitleField),
			Except: NewLocationOrQuery([]LocationQuery{NewWordQuery("fennec", TitleField)}),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseQuery(tc.input)
			if err != nil {
				t.Fatalf("ParseQuery(%q): %v", tc.input, err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("ParseQuery(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseQuery_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"reserved word", "or"},
		{"reserved word cased", "AND"},
		{"unknown field", "colour:red"},
		{"bad rating", "rating:spicy"},
		{"quoted rating", `rating:"general"`},
		{"unterminated phrase", `"red fox`},
		{"unclosed bracket", "(a or b"},
		{"dangling connector", "fox and"},
		{"plain bracketed field value", "title:(a or b)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseQuery(tc.input)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("ParseQuery(%q) error = %v, want ErrInvalidQuery", tc.input, err)
			}
		})
	}
}

func TestParseQuery_ReservedWordQuoted(t *testing.T) {
	got, err := ParseQuery(`"and"`)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if !got.Equal(NewPhraseQuery("and", AnyField)) {
		t.Errorf("got %v, want phrase query", got)
	}
}

func TestParseQuery_StringRoundTrip(t *testing.T) {
	inputs := []string{
		"fox",
		"red fox",
		"a or b and c",
		"-fox",
		`"red fox"`,
		"title:fox",
		"artist:fen*",
		"*fox",
		"f*x",
		"rating:mature",
		"fox except fennec",
		"fox except (fennec or arctic)",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, err := ParseQuery(input)
			if err != nil {
				t.Fatalf("ParseQuery(%q): %v", input, err)
			}
			second, err := ParseQuery(first.String())
			if err != nil {
				t.Fatalf("ParseQuery(%q): %v", first.String(), err)
			}
			if !second.Equal(first) {
				t.Errorf("round trip of %q changed query: %v != %v", input, second, first)
			}
		})
	}
}

func TestParseQuery_Cached(t *testing.T) {
	first, err := ParseQuery("cache test fox")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	second, err := ParseQuery("cache test fox")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if first != second {
		t.Error("expected identical query instance from parse cache")
	}
}
