package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindMatches(t *testing.T) {
	tests := []struct {
		name  string
		entry GlossaryEntry
		text  string
		want  [][2]int
	}{
		{"case insensitive", GlossaryEntry{SourceTerm: "api"}, "The API and the api", [][2]int{{4, 7}, {16, 19}}},
		{"case sensitive", GlossaryEntry{SourceTerm: "API", CaseSensitive: true}, "The API and the api", [][2]int{{4, 7}}},
		{"substring allowed", GlossaryEntry{SourceTerm: "cat"}, "concatenate", [][2]int{{3, 6}}},
		{"whole words only", GlossaryEntry{SourceTerm: "cat", ExactMatchOnly: true}, "cat concatenate cat.", [][2]int{{0, 3}, {16, 19}}},
		{"unicode boundary", GlossaryEntry{SourceTerm: "café", ExactMatchOnly: true}, "cafés café", [][2]int{{7, 12}}},
		{"regex characters are literal", GlossaryEntry{SourceTerm: "C++"}, "C++ and C", [][2]int{{0, 3}}},
		{"empty term", GlossaryEntry{SourceTerm: ""}, "anything", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int
			for _, m := range FindMatches([]GlossaryEntry{tt.entry}, tt.text) {
				got = append(got, [2]int{m.Start, m.End})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectMatches(t *testing.T) {
	matches := []GlossaryMatch{
		{Term: "new", Start: 0, End: 3, Priority: 1},
		{Term: "new york", Start: 0, End: 8, Priority: 1},
		{Term: "york city", Start: 4, End: 13, Priority: 5},
		{Term: "times", Start: 14, End: 19, Priority: 0},
	}
	got := SelectMatches(matches)
	var terms []string
	for _, m := range got {
		terms = append(terms, m.Term)
	}
	// Priority beats length: "york city" wins over "new york", which frees "new".
	assert.Equal(t, []string{"new", "york city", "times"}, terms)

	// Equal priority and length: the earlier start wins.
	got = SelectMatches([]GlossaryMatch{
		{Term: "bc", Start: 1, End: 3},
		{Term: "ab", Start: 0, End: 2},
	})
	assert.Equal(t, "ab", got[0].Term)
	assert.Len(t, got, 1)
}

func TestApplyMatches(t *testing.T) {
	out, terms := ApplyMatches("Hello World", []GlossaryMatch{
		{Start: 0, End: 5, Replacement: "Bonjour"},
		{Start: 6, End: 11, Replacement: "Monde"},
	})
	assert.Equal(t, "Bonjour Monde", out)
	assert.Equal(t, []string{"Hello", "World"}, terms)

	out, terms = ApplyMatches("abc", nil)
	assert.Equal(t, "abc", out)
	assert.Empty(t, terms)
}

func TestFilterEntries(t *testing.T) {
	entries := []GlossaryEntry{
		{ID: "1", SourceLanguage: "en", TargetLanguage: "fr"},
		{ID: "2", SourceLanguage: "de", TargetLanguage: "fr"},
		{ID: "3", SourceLanguage: "en", TargetLanguage: "es"},
	}
	ids := func(es []GlossaryEntry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, []string{"1"}, ids(FilterEntries(entries, "en", "fr")))
	assert.Equal(t, []string{"1", "2"}, ids(FilterEntries(entries, "auto", "FR")))
	assert.Empty(t, FilterEntries(entries, "en", "ja"))
}

func TestHashSource(t *testing.T) {
	h := HashSource("thank you")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashSource("  Thank   YOU\n"))
	assert.Equal(t, HashSource("Straße"), HashSource("STRASSE"))
	assert.NotEqual(t, h, HashSource("thank you!"))
}
