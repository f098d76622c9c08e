package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Scenario classifies a fact as reported, planned, or projected.
type Scenario string

const (
	ScenarioActual   Scenario = "actual"
	ScenarioBudget   Scenario = "budget"
	ScenarioForecast Scenario = "forecast"
)

// ParseScenario normalizes a free-text scenario label. Unknown or empty
// labels return ("", false) so callers can apply their own default.
func ParseScenario(s string) (Scenario, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "actual", "actuals", "act", "a":
		return ScenarioActual, true
	case "budget", "bud", "plan", "b":
		return ScenarioBudget, true
	case "forecast", "fcst", "reforecast", "projection", "f":
		return ScenarioForecast, true
	}
	return "", false
}

// SourceLocation points at the place in a source file a value came from.
// PDF locations use Page and BBox; XLSX locations use Sheet and Cell.
type SourceLocation struct {
	Page  int       `json:"page,omitempty"`
	BBox  []float64 `json:"bbox,omitempty"`
	Sheet string    `json:"sheet,omitempty"`
	Cell  string    `json:"cell,omitempty"`
}

// IsZero reports whether the location carries no position at all.
func (l SourceLocation) IsZero() bool {
	return l.Page == 0 && len(l.BBox) == 0 && l.Sheet == "" && l.Cell == ""
}

// Key identifies the renderable region: "page:N" for PDFs, "Sheet!A1" for
// workbooks. Two facts with the same key share one snippet.
func (l SourceLocation) Key() string {
	if l.Sheet != "" || l.Cell != "" {
		return l.Sheet + "!" + l.Cell
	}
	return fmt.Sprintf("page:%d", l.Page)
}

// ChangeKind labels a changelog entry.
type ChangeKind string

const (
	ChangeInitialImport ChangeKind = "initial_import"
	ChangeUpdate        ChangeKind = "update"
	ChangeRejected      ChangeKind = "rejected"
	ChangeConfirmed     ChangeKind = "confirmed"
)

// ChangeLogEntry is one historical value observation on a fact.
type ChangeLogEntry struct {
	ID            string     `json:"id"`
	Kind          ChangeKind `json:"kind"`
	Value         float64    `json:"value"`
	PreviousValue *float64   `json:"previous_value,omitempty"`
	SourceFile    string     `json:"source_file"`
	Priority      int        `json:"priority"`
	Explanation   string     `json:"explanation,omitempty"`
	RecordedAt    time.Time  `json:"recorded_at"`
}

// FactKey is the uniqueness key of a fact within a company.
type FactKey struct {
	LineItemID string   `json:"line_item_id"`
	Period     string   `json:"period"`
	Scenario   Scenario `json:"scenario"`
}

func (k FactKey) String() string {
	return k.LineItemID + "|" + k.Period + "|" + string(k.Scenario)
}

// Compare orders keys by line item, then period, then scenario.
func (k FactKey) Compare(o FactKey) int {
	if c := strings.Compare(k.LineItemID, o.LineItemID); c != 0 {
		return c
	}
	if c := strings.Compare(k.Period, o.Period); c != 0 {
		return c
	}
	return strings.Compare(string(k.Scenario), string(o.Scenario))
}

// LineItemFact is a single normalized observation of a line item for one
// period and scenario.
type LineItemFact struct {
	LineItemID     string           `json:"line_item_id"`
	Label          string           `json:"label,omitempty"`
	Amount         float64          `json:"amount"`
	Period         string           `json:"date"`
	Scenario       Scenario         `json:"scenario"`
	SourceFile     string           `json:"source_file"`
	SourceLocation *SourceLocation  `json:"source_location,omitempty"`
	SnippetURL     string           `json:"snippet_url,omitempty"`
	Explanation    string           `json:"explanation,omitempty"`
	Changelog      []ChangeLogEntry `json:"changelog,omitempty"`
}

// Key returns the fact's uniqueness key.
func (f LineItemFact) Key() FactKey {
	return FactKey{LineItemID: f.LineItemID, Period: f.Period, Scenario: f.Scenario}
}

// WithChange returns a copy of f with entry appended to its changelog. The
// receiver's changelog backing array is never shared with the result.
func (f LineItemFact) WithChange(entry ChangeLogEntry) LineItemFact {
	out := f
	out.Changelog = append(slices.Clone(f.Changelog), entry)
	return out
}

// LatestChange returns the most recent changelog entry, if any.
func (f LineItemFact) LatestChange() (ChangeLogEntry, bool) {
	if len(f.Changelog) == 0 {
		return ChangeLogEntry{}, false
	}
	return f.Changelog[len(f.Changelog)-1], true
}

// SortFacts orders facts by key in place.
func SortFacts(facts []LineItemFact) {
	slices.SortStableFunc(facts, func(a, b LineItemFact) int {
		return a.Key().Compare(b.Key())
	})
}

// GroupByPeriod buckets facts by their period, preserving input order
// within each bucket. The returned period list is sorted.
func GroupByPeriod(facts []LineItemFact) ([]string, map[string][]LineItemFact) {
	groups := make(map[string][]LineItemFact)
	for _, f := range facts {
		groups[f.Period] = append(groups[f.Period], f)
	}
	periods := make([]string, 0, len(groups))
	for p := range groups {
		periods = append(periods, p)
	}
	slices.Sort(periods)
	return periods, groups
}
