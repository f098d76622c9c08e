// Package mapper turns a validated extraction result into normalized line
// item facts using a company guide.
package mapper

import (
	"path"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/guide"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/period"
)

// Stats counts items the mapper could not turn into facts.
type Stats struct {
	Mapped       int      `json:"mapped"`
	Unparseable  int      `json:"unparseable"`
	Unmapped     int      `json:"unmapped"`
	Ignored      int      `json:"ignored"`
	UnmappedList []string `json:"unmapped_labels,omitempty"`
}

// Mapper holds the per-company state needed to map one or more files.
type Mapper struct {
	guide   *model.CompanyGuide
	matcher *guide.Matcher
}

// New builds a mapper for a company guide.
func New(g *model.CompanyGuide) *Mapper {
	if g == nil {
		g = guide.Default("")
	}
	return &Mapper{guide: g, matcher: guide.NewMatcher(g)}
}

// rawItem is the file-type independent view of an extracted line item.
type rawItem struct {
	label    string
	value    model.RawAmount
	scenario string
	period   string
	loc      model.SourceLocation
}

// Map converts the active variant of r into facts for filename, using
// filePeriod when an item carries no period of its own. Items whose label
// resolves to no canonical id or whose amount cannot be parsed are dropped
// and counted; neither is an error.
func (m *Mapper) Map(r *model.ExtractionResult, filename, filePeriod string) ([]model.LineItemFact, Stats) {
	var items []rawItem
	switch r.FileType {
	case model.FileTypePDF:
		items = pdfItems(r.PDF)
	case model.FileTypeXLSX:
		items = xlsxItems(r.XLSX)
	}

	defaultScenario := m.defaultScenario(filename)
	scale := m.guide.Scale()

	var stats Stats
	facts := make([]model.LineItemFact, 0, len(items))
	for _, it := range items {
		if m.matcher.Ignored(it.label) {
			stats.Ignored++
			continue
		}
		id, ok := m.matcher.Resolve(it.label)
		if !ok {
			stats.Unmapped++
			stats.UnmappedList = append(stats.UnmappedList, it.label)
			continue
		}
		amount, percent, err := ParseAmount(string(it.value))
		if err != nil {
			stats.Unparseable++
			zap.L().Debug("mapper: dropping unparseable amount",
				zap.String("file", filename),
				zap.String("label", it.label),
				zap.String("value", string(it.value)),
			)
			continue
		}
		if !percent && scale != 1 {
			amount = amount.Mul(decimal.NewFromFloat(scale))
		}

		scenario, ok := model.ParseScenario(it.scenario)
		if !ok {
			scenario = defaultScenario
		}

		p := filePeriod
		if it.period != "" {
			if resolved, ok := period.Resolve(it.period); ok {
				p = resolved
			}
		}

		loc := it.loc
		f, _ := amount.Float64()
		facts = append(facts, model.LineItemFact{
			LineItemID:     id,
			Label:          it.label,
			Amount:         f,
			Period:         p,
			Scenario:       scenario,
			SourceFile:     filename,
			SourceLocation: &loc,
		})
		stats.Mapped++
	}
	return facts, stats
}

// Explanations rewrites the result's variance explanations onto canonical
// line item ids and periods so reconciliation can match them to facts.
// Explanations whose label resolves to no id are dropped; an unresolvable
// period falls back to filePeriod.
func (m *Mapper) Explanations(r *model.ExtractionResult, filePeriod string) []model.VarianceExplanation {
	out := make([]model.VarianceExplanation, 0, len(r.VarianceExplanations))
	for _, ve := range r.VarianceExplanations {
		id, ok := m.matcher.Resolve(ve.LineItem)
		if !ok {
			continue
		}
		p := filePeriod
		if resolved, ok := period.Resolve(ve.Period); ok {
			p = resolved
		}
		out = append(out, model.VarianceExplanation{
			LineItem:    id,
			Period:      p,
			Scenario:    ve.Scenario,
			Explanation: ve.Explanation,
		})
	}
	return out
}

// FilePattern returns the first guide file pattern matching filename.
func FilePattern(g *model.CompanyGuide, filename string) (model.FilePattern, bool) {
	if g == nil {
		return model.FilePattern{}, false
	}
	base := strings.ToLower(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	for _, fp := range g.FilePatterns {
		if ok, err := path.Match(strings.ToLower(fp.Pattern), base); err == nil && ok {
			return fp, true
		}
	}
	return model.FilePattern{}, false
}

func (m *Mapper) defaultScenario(filename string) model.Scenario {
	if fp, ok := FilePattern(m.guide, filename); ok && fp.Scenario != "" {
		return fp.Scenario
	}
	return model.ScenarioActual
}

func pdfItems(p *model.PDFExtraction) []rawItem {
	if p == nil {
		return nil
	}
	out := make([]rawItem, 0, len(p.LineItems))
	for _, li := range p.LineItems {
		out = append(out, rawItem{
			label:    li.Label,
			value:    li.Value,
			scenario: li.Scenario,
			period:   li.Period,
			loc:      model.SourceLocation{Page: li.Page, BBox: slices.Clone(li.BBox)},
		})
	}
	return out
}

func xlsxItems(x *model.XLSXExtraction) []rawItem {
	if x == nil {
		return nil
	}
	out := make([]rawItem, 0, len(x.LineItems))
	for _, li := range x.LineItems {
		out = append(out, rawItem{
			label:    li.Label,
			value:    li.Value,
			scenario: li.Scenario,
			period:   li.Period,
			loc:      model.SourceLocation{Sheet: li.Sheet, Cell: li.Cell},
		})
	}
	return out
}
