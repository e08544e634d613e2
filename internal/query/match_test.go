package query

import (
	"testing"

	"github.com/subwatch/subwatch/internal/site"
)

func testTarget() *QueryTarget {
	return NewTarget(
		123,
		[]string{"A Quick Red Fox"},
		[]string{"The fox jumps over the lazy dog.", "Commission for Someone"},
		[]string{"fox", "Canine!", "red-panda"},
		[]string{"ArtistName"},
		site.RatingGeneral,
	)
}

func TestMatchesTarget(t *testing.T) {
	target := testTarget()
	cases := []struct {
		query string
		want  bool
	}{
		{"fox", true},
		{"FOX", true},
		{"wolf", false},
		{"canine", true},        // keyword cleaned of punctuation
		{"red-panda", true},     // hyphen kept as word character
		{"panda", false},        // no partial keyword match
		{"artistname", true},    // artist matches case-insensitively
		{"title:fox", true},
		{"title:dog", false},
		{"desc:dog", true},
		{"description:commission", true},
		{"keywords:fox", true},
		{"keywords:quick", false},
		{"artist:artistname", true},
		{"artist:someone", false},
		{"fox*", false}, // prefix must match a strictly longer word
		{"fo*", true},
		{"*dog", false}, // suffix must match a strictly longer word
		{"*g", true},
		{"qu*ck", true},
		{"f*x", true},
		{"fx", false},
		{`"quick red"`, true},
		{`"red fox jumps"`, false}, // phrases do not span fields
		{`title:"quick red fox"`, true},
		{"rating:general", true},
		{"rating:safe", true},
		{"rating:adult", false},
		{"-wolf", true},
		{"-fox", false},
		{"fox and dog", true},
		{"fox and wolf", false},
		{"wolf or dog", true},
		{"fox and not wolf", true},
		{"(wolf or dog) and commission", true},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			q, err := ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("ParseQuery(%q): %v", tc.query, err)
			}
			if got := q.MatchesTarget(target); got != tc.want {
				t.Errorf("MatchesTarget(%q) = %v, want %v", tc.query, got, tc.want)
			}
		})
	}
}

func TestPhraseBoundaries(t *testing.T) {
	target := NewTarget(1, []string{"bred foxes roam"}, nil, nil, nil, site.RatingGeneral)
	q, err := ParseQuery(`"red fox"`)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if q.MatchesTarget(target) {
		t.Error("phrase matched inside larger words")
	}
}

func TestExceptionMatching(t *testing.T) {
	cases := []struct {
		name  string
		query string
		title string
		want  bool
	}{
		{"plain hit", "deer except reindeer", "a deer in the woods", true},
		{"suppressed hit", "deer except reindeer", "a reindeer in the snow", false},
		{"both forms present", "deer except reindeer", "a deer beside a reindeer", true},
		{"phrase exception", `fox except "fox spirit"`, "a fox spirit appears", false},
		{"phrase exception miss", `fox except "fox spirit"`, "a fox appears", true},
		{"exception list", "fox except (fennec or arctic)", "an arctic fox", true},
		{"hyphen joins words", "fox except fennec", "an arctic-fox", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("ParseQuery(%q): %v", tc.query, err)
			}
			target := NewTarget(1, []string{tc.title}, nil, nil, nil, site.RatingGeneral)
			if got := q.MatchesTarget(target); got != tc.want {
				t.Errorf("MatchesTarget(%q) on %q = %v, want %v", tc.query, tc.title, got, tc.want)
			}
		})
	}
}

func TestMatchLocationOverlaps(t *testing.T) {
	a := MatchLocation{Field: "title_0", Start: 2, End: 5}
	cases := []struct {
		name  string
		other MatchLocation
		want  bool
	}{
		{"identical", MatchLocation{Field: "title_0", Start: 2, End: 5}, true},
		{"partial", MatchLocation{Field: "title_0", Start: 4, End: 8}, true},
		{"contained", MatchLocation{Field: "title_0", Start: 0, End: 10}, true},
		{"adjacent", MatchLocation{Field: "title_0", Start: 5, End: 8}, false},
		{"disjoint", MatchLocation{Field: "title_0", Start: 8, End: 10}, false},
		{"other field", MatchLocation{Field: "title_1", Start: 2, End: 5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.Overlaps(tc.other); got != tc.want {
				t.Errorf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := tc.other.Overlaps(a); got != tc.want {
				t.Errorf("reverse Overlaps = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		input string
		want  []string
	}{
		{"A Quick Red Fox", []string{"a", "quick", "red", "fox"}},
		{"hello, world!", []string{"hello", "world"}},
		{"semi-colon under_score", []string{"semi-colon", "under_score"}},
		{"...", nil},
		{"", nil},
	}
	for _, tc := range cases {
		got := tokenize(tc.input)
		if len(got) != len(tc.want) {
			t.Errorf("tokenize(%q) = %v, want %v", tc.input, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("tokenize(%q)[%d] = %q, want %q", tc.input, i, got[i], tc.want[i])
			}
		}
	}
}

func TestTargetAnyFieldSpansAllFields(t *testing.T) {
	target := testTarget()
	any := target.Words(AnyField)
	for _, want := range []string{"quick", "jumps", "canine", "artistname"} {
		found := false
		for _, w := range any {
			if w == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("any-field words missing %q: %v", want, any)
		}
	}
}
