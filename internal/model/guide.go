package model

// FilePattern tags filenames matching Pattern (a path.Match glob against
// the lower-cased base name) with a file type, default scenario, and
// reconciliation priority.
type FilePattern struct {
	Pattern  string   `yaml:"pattern" json:"pattern"`
	FileType FileType `yaml:"file_type,omitempty" json:"file_type,omitempty"`
	Scenario Scenario `yaml:"scenario,omitempty" json:"scenario,omitempty"`
	Priority *int     `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// MetricDefinition describes a derived metric as a formula over line item ids.
type MetricDefinition struct {
	ID      string   `yaml:"id" json:"id"`
	Unit    string   `yaml:"unit" json:"unit"`
	Inputs  []string `yaml:"inputs" json:"inputs"`
	Formula string   `yaml:"formula" json:"formula"`
}

// CompanyGuide is the per-company schema: canonical line items, their
// synonyms, file conventions, and metric overrides.
type CompanyGuide struct {
	Slug                 string              `yaml:"slug" json:"slug"`
	Name                 string              `yaml:"name" json:"name"`
	Currency             string              `yaml:"currency" json:"currency"`
	FiscalYearStartMonth int                 `yaml:"fiscal_year_start_month" json:"fiscal_year_start_month"`
	AmountScale          float64             `yaml:"amount_scale" json:"amount_scale"`
	Synonyms             map[string][]string `yaml:"synonyms" json:"synonyms"`
	FilePatterns         []FilePattern       `yaml:"file_patterns" json:"file_patterns"`
	IgnoreLabels         []string            `yaml:"ignore_labels" json:"ignore_labels"`
	Metrics              []MetricDefinition  `yaml:"metrics" json:"metrics"`
}

// LineItemIDs returns the canonical ids the guide knows about.
func (g *CompanyGuide) LineItemIDs() []string {
	ids := make([]string, 0, len(g.Synonyms))
	for id := range g.Synonyms {
		ids = append(ids, id)
	}
	return ids
}

// Scale returns the multiplier applied to parsed amounts.
func (g *CompanyGuide) Scale() float64 {
	if g == nil || g.AmountScale == 0 {
		return 1
	}
	return g.AmountScale
}
