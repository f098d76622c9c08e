// Package metrics derives financial metrics from a period's actual facts.
package metrics

import (
	"math"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/model"
)

// Builtins are the metrics every company gets. Guide definitions with the
// same id replace them.
var Builtins = []model.MetricDefinition{
	{ID: "implied_arr", Unit: "currency", Inputs: []string{"mrr"}, Formula: "mrr * 12"},
	{ID: "net_burn", Unit: "currency", Inputs: []string{"total_expenses", "revenue"}, Formula: "total_expenses - revenue"},
	{ID: "runway_months", Unit: "months", Inputs: []string{"cash", "burn_rate"}, Formula: "cash / abs(burn_rate)"},
	{ID: "gross_margin", Unit: "ratio", Inputs: []string{"revenue", "cogs"}, Formula: "(revenue - cogs) / revenue"},
	{ID: "ebitda_margin", Unit: "ratio", Inputs: []string{"ebitda", "revenue"}, Formula: "ebitda / revenue"},
	{ID: "burn_multiple", Unit: "ratio", Inputs: []string{"burn_rate", "net_new_arr"}, Formula: "abs(burn_rate) / net_new_arr"},
	{ID: "arr_per_employee", Unit: "currency", Inputs: []string{"arr", "headcount"}, Formula: "arr / headcount"},
	{ID: "churn_rate", Unit: "ratio", Inputs: []string{"churned_arr", "arr"}, Formula: "churned_arr / arr"},
	{ID: "opex_ratio", Unit: "ratio", Inputs: []string{"operating_expenses", "revenue"}, Formula: "operating_expenses / revenue"},
}

type compiled struct {
	def     model.MetricDefinition
	program *vm.Program
}

// Engine evaluates a fixed set of compiled metric definitions.
type Engine struct {
	metrics []compiled
}

// NewEngine compiles Builtins merged with overrides (later ids replace
// earlier ones). A formula may only reference its declared inputs.
func NewEngine(overrides ...model.MetricDefinition) (*Engine, error) {
	byID := make(map[string]model.MetricDefinition, len(Builtins)+len(overrides))
	for _, d := range Builtins {
		byID[d.ID] = d
	}
	for _, d := range overrides {
		if d.ID == "" {
			return nil, eris.New("metrics: definition without id")
		}
		byID[d.ID] = d
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	e := &Engine{metrics: make([]compiled, 0, len(ids))}
	for _, id := range ids {
		d := byID[id]
		if len(d.Inputs) == 0 {
			return nil, eris.Errorf("metrics: %s has no inputs", id)
		}
		env := make(map[string]any, len(d.Inputs))
		for _, in := range d.Inputs {
			env[in] = 0.0
		}
		program, err := expr.Compile(d.Formula, expr.Env(env), expr.AsFloat64())
		if err != nil {
			return nil, eris.Wrapf(err, "metrics: compile %s", id)
		}
		e.metrics = append(e.metrics, compiled{def: d, program: program})
	}
	return e, nil
}

// ForGuide builds an engine with the guide's metric overrides. An invalid
// guide definition is logged and the builtins are used instead.
func ForGuide(g *model.CompanyGuide) *Engine {
	if g != nil && len(g.Metrics) > 0 {
		e, err := NewEngine(g.Metrics...)
		if err == nil {
			return e
		}
		zap.L().Warn("metrics: invalid guide definitions, using builtins",
			zap.String("company", g.Slug), zap.Error(err))
	}
	e, err := NewEngine()
	if err != nil {
		// Builtins are static; a failure here is a programming error.
		panic(err)
	}
	return e
}

// Definitions returns the engine's metric definitions sorted by id.
func (e *Engine) Definitions() []model.MetricDefinition {
	out := make([]model.MetricDefinition, len(e.metrics))
	for i, m := range e.metrics {
		out[i] = m.def
	}
	return out
}

// Compute evaluates every metric whose inputs are all present in amounts.
// Metrics with a missing input, an evaluation error, or a non-finite
// result are omitted. The result is sorted by metric id.
func (e *Engine) Compute(period string, amounts map[string]float64) []model.ComputedMetric {
	out := make([]model.ComputedMetric, 0, len(e.metrics))
	for _, m := range e.metrics {
		env := make(map[string]any, len(m.def.Inputs))
		inputs := make(map[string]float64, len(m.def.Inputs))
		missing := false
		for _, in := range m.def.Inputs {
			v, ok := amounts[in]
			if !ok {
				missing = true
				break
			}
			env[in] = v
			inputs[in] = v
		}
		if missing {
			continue
		}

		res, err := expr.Run(m.program, env)
		if err != nil {
			zap.L().Debug("metrics: evaluation failed", zap.String("metric", m.def.ID), zap.Error(err))
			continue
		}
		v, ok := res.(float64)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, model.ComputedMetric{
			MetricID: m.def.ID,
			Value:    v,
			Unit:     m.def.Unit,
			Period:   period,
			Inputs:   inputs,
		})
	}
	return out
}

// ActualAmounts returns line item amounts of the period's actual facts.
// Budget and forecast facts never feed metrics.
func ActualAmounts(facts []model.LineItemFact, period string) map[string]float64 {
	out := make(map[string]float64)
	for _, f := range facts {
		if f.Scenario != model.ScenarioActual || f.Period != period {
			continue
		}
		out[f.LineItemID] = f.Amount
	}
	return out
}
