package guide

import (
	"slices"
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/sells-group/finrecon/internal/model"
)

// Matcher resolves raw labels to canonical line item ids.
type Matcher struct {
	ac       ahocorasick.AhoCorasick
	patterns []string
	ids      []string
	exact    map[string]int
	ignore   map[string]struct{}
}

// NewMatcher builds a matcher over the built-in vocabulary plus the
// guide's synonyms. A guide synonym that collides with a built-in one
// takes the guide's id. Canonical ids also match themselves, with
// underscores read as spaces.
func NewMatcher(g *model.CompanyGuide) *Matcher {
	byPattern := make(map[string]string)
	add := func(id string, synonyms []string) {
		if p := Normalize(id); p != "" {
			byPattern[p] = id
		}
		for _, s := range synonyms {
			if p := Normalize(s); p != "" {
				byPattern[p] = id
			}
		}
	}
	for _, id := range sortedKeys(DefaultSynonyms) {
		add(id, DefaultSynonyms[id])
	}
	if g != nil {
		for _, id := range sortedKeys(g.Synonyms) {
			add(id, g.Synonyms[id])
		}
	}

	m := &Matcher{
		exact:  make(map[string]int, len(byPattern)),
		ignore: make(map[string]struct{}),
	}
	m.patterns = sortedKeys(byPattern)
	m.ids = make([]string, len(m.patterns))
	for i, p := range m.patterns {
		m.ids[i] = byPattern[p]
		m.exact[p] = i
	}
	if g != nil {
		for _, l := range g.IgnoreLabels {
			if n := Normalize(l); n != "" {
				m.ignore[n] = struct{}{}
			}
		}
	}

	builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	m.ac = builder.Build(m.patterns)
	return m
}

// Resolve maps a label to a canonical id. An exact synonym match wins;
// otherwise the longest synonym found inside the label wins, with the
// leftmost taking ties.
func (m *Matcher) Resolve(label string) (string, bool) {
	n := Normalize(label)
	if n == "" {
		return "", false
	}
	if i, ok := m.exact[n]; ok {
		return m.ids[i], true
	}

	best, bestLen := -1, 0
	for _, match := range m.ac.FindAll(n) {
		if l := match.End() - match.Start(); l > bestLen {
			best, bestLen = match.Pattern(), l
		}
	}
	if best < 0 {
		return "", false
	}
	return m.ids[best], true
}

// Ignored reports whether the guide lists the label as noise.
func (m *Matcher) Ignored(label string) bool {
	_, ok := m.ignore[Normalize(label)]
	return ok
}

// Known reports whether id is a canonical id the matcher can produce.
func (m *Matcher) Known(id string) bool {
	return slices.Contains(m.ids, id)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// SplitSynonyms parses a comma or semicolon separated synonym list.
func SplitSynonyms(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
