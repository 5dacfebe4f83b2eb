// Package glossary implements Clean's Phase A: an ordered,
// case-insensitive, word-boundary-anchored find/replace pass over a
// transcript, matching longest keys first to avoid a short key partially
// shadowing a longer one. Regex assembly here precompiles the patterns
// once and reuses them across calls, rather than compiling per-match.
package glossary

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Entry is one glossary rule: any of Variations, matched case-insensitively
// at word boundaries, is replaced with Canonical.
type Entry struct {
	Canonical  string
	Variations []string
}

// Correction records one applied replacement, for the Clean stage's
// `corrections` output field.
type Correction struct {
	Variation string
	Canonical string
	Count     int
}

// compiledRule pairs a variation with its compiled case-insensitive
// pattern; Apply checks the word boundaries around each match.
type compiledRule struct {
	variation string
	canonical string
	pattern   *regexp.Regexp
}

// Glossary is a compiled, ready-to-apply replacement set.
type Glossary struct {
	rules []compiledRule
}

// Compile builds a Glossary from entries, ordering variations longest-first
// (by rune count) so a longer variation is tried before any shorter one
// that might be its substring.
func Compile(entries []Entry) *Glossary {
	var rules []compiledRule
	for _, e := range entries {
		for _, v := range e.Variations {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			rules = append(rules, compiledRule{
				variation: v,
				canonical: e.Canonical,
				pattern:   regexp.MustCompile(`(?i)` + regexp.QuoteMeta(v)),
			})
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return len([]rune(rules[i].variation)) > len([]rune(rules[j].variation))
	})
	return &Glossary{rules: rules}
}

// Apply runs every rule over text in order and returns the corrected text
// plus one Correction per rule that matched at least once, in application
// order.
func (g *Glossary) Apply(text string) (string, []Correction) {
	var corrections []Correction
	for _, r := range g.rules {
		count := 0
		var b strings.Builder
		last := 0
		for _, loc := range r.pattern.FindAllStringIndex(text, -1) {
			// Boundaries are checked on runes (regexp's \b only knows ASCII
			// word characters, so it never anchors a Cyrillic word).
			before, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
			after, _ := utf8.DecodeRuneInString(text[loc[1]:])
			if unicode.In(before, unicode.L, unicode.N) || unicode.In(after, unicode.L, unicode.N) {
				continue
			}
			b.WriteString(text[last:loc[0]] + r.canonical)
			last = loc[1]
			count++
		}
		if count > 0 {
			text = b.String() + text[last:]
			corrections = append(corrections, Correction{
				Variation: r.variation,
				Canonical: r.canonical,
				Count:     count,
			})
		}
	}
	return text, corrections
}
