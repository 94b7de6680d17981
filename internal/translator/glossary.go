package translator

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// GlossaryEntry is a forced terminology mapping.
type GlossaryEntry struct {
	ID             string `json:"id" yaml:"id"`
	SourceTerm     string `json:"source_term" yaml:"source_term"`
	TargetTerm     string `json:"target_term" yaml:"target_term"`
	SourceLanguage string `json:"source_language" yaml:"source_language"`
	TargetLanguage string `json:"target_language" yaml:"target_language"`
	CaseSensitive  bool   `json:"case_sensitive" yaml:"case_sensitive"`
	// ExactMatchOnly restricts matches to whole words.
	ExactMatchOnly bool      `json:"exact_match_only" yaml:"exact_match_only"`
	Priority       int       `json:"priority" yaml:"priority"`
	Definition     string    `json:"definition,omitempty" yaml:"definition,omitempty"`
	Notes          string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	Domain         string    `json:"domain,omitempty" yaml:"domain,omitempty"`
	UsageCount     int       `json:"usage_count" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
}

// GlossaryMatch is one occurrence of a glossary term in a text. Start and
// End are byte offsets.
type GlossaryMatch struct {
	EntryID     string `json:"entry_id"`
	Term        string `json:"term"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Replacement string `json:"replacement"`
	Priority    int    `json:"priority"`
}

// GlossaryLookup is the glossary collaborator. Matches may return
// overlapping occurrences; the resolver picks among them.
type GlossaryLookup interface {
	Matches(ctx context.Context, text, srcLang, tgtLang string) ([]GlossaryMatch, error)
}

// GlossaryUsageRecorder is implemented by glossaries that count how often
// each entry was applied.
type GlossaryUsageRecorder interface {
	RecordUsage(ctx context.Context, entryIDs []string) error
}

// FindMatches returns every occurrence of every entry's term in text, in
// order of position.
func FindMatches(entries []GlossaryEntry, text string) []GlossaryMatch {
	var out []GlossaryMatch
	for _, e := range entries {
		if e.SourceTerm == "" {
			continue
		}
		pattern := regexp.QuoteMeta(e.SourceTerm)
		if !e.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if e.ExactMatchOnly && !atWordBoundary(text, loc[0], loc[1]) {
				continue
			}
			out = append(out, GlossaryMatch{
				EntryID:     e.ID,
				Term:        e.SourceTerm,
				Start:       loc[0],
				End:         loc[1],
				Replacement: e.TargetTerm,
				Priority:    e.Priority,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End > out[j].End
	})
	return out
}

func atWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// SelectMatches drops overlapping matches. Higher priority wins, then the
// longer term, then the earlier start. The result is sorted by position.
func SelectMatches(matches []GlossaryMatch) []GlossaryMatch {
	ranked := append([]GlossaryMatch(nil), matches...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return a.Start < b.Start
	})

	var chosen []GlossaryMatch
	for _, m := range ranked {
		if m.End <= m.Start {
			continue
		}
		overlaps := false
		for _, c := range chosen {
			if m.Start < c.End && c.Start < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			chosen = append(chosen, m)
		}
	}
	sort.Slice(chosen, func(i, j int) bool { return chosen[i].Start < chosen[j].Start })
	return chosen
}

// ApplyMatches substitutes non-overlapping matches in text and returns the
// result with the applied source terms in order of position.
func ApplyMatches(text string, matches []GlossaryMatch) (string, []string) {
	var sb strings.Builder
	terms := make([]string, 0, len(matches))
	last := 0
	for _, m := range matches {
		if m.Start < last || m.End > len(text) {
			continue
		}
		sb.WriteString(text[last:m.Start])
		sb.WriteString(m.Replacement)
		terms = append(terms, text[m.Start:m.End])
		last = m.End
	}
	sb.WriteString(text[last:])
	return sb.String(), terms
}

// StaticGlossary is an in-memory glossary over a fixed entry list.
type StaticGlossary struct {
	entries []GlossaryEntry
}

// NewStaticGlossary creates a glossary from entries.
func NewStaticGlossary(entries ...GlossaryEntry) *StaticGlossary {
	return &StaticGlossary{entries: append([]GlossaryEntry(nil), entries...)}
}

// Matches implements GlossaryLookup.
func (g *StaticGlossary) Matches(_ context.Context, text, srcLang, tgtLang string) ([]GlossaryMatch, error) {
	return FindMatches(FilterEntries(g.entries, srcLang, tgtLang), text), nil
}

// FilterEntries keeps entries for the language pair. An "auto" or empty
// source language accepts entries of any source language.
func FilterEntries(entries []GlossaryEntry, srcLang, tgtLang string) []GlossaryEntry {
	var out []GlossaryEntry
	for _, e := range entries {
		if !strings.EqualFold(e.TargetLanguage, tgtLang) {
			continue
		}
		if !AnyLanguage(srcLang) && !strings.EqualFold(e.SourceLanguage, srcLang) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// AnyLanguage reports whether lang stands for an undetected source language.
func AnyLanguage(lang string) bool {
	return lang == "" || strings.EqualFold(lang, "auto")
}
