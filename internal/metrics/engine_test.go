package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func metricMap(ms []model.ComputedMetric) map[string]model.ComputedMetric {
	out := make(map[string]model.ComputedMetric, len(ms))
	for _, m := range ms {
		out[m.MetricID] = m
	}
	return out
}

func TestComputeBuiltins(t *testing.T) {
	t.Parallel()

	e, err := NewEngine()
	require.NoError(t, err)

	got := metricMap(e.Compute("2024-01-01", map[string]float64{
		"mrr":       100_000,
		"revenue":   200,
		"cogs":      50,
		"cash":      1_200_000,
		"burn_rate": -100_000,
		"arr":       1_200_000,
		"headcount": 12,
	}))

	assert.InDelta(t, 1_200_000, got["implied_arr"].Value, 1e-9)
	assert.InDelta(t, 0.75, got["gross_margin"].Value, 1e-9)
	assert.InDelta(t, 12, got["runway_months"].Value, 1e-9)
	assert.InDelta(t, 100_000, got["arr_per_employee"].Value, 1e-9)
	assert.Equal(t, "months", got["runway_months"].Unit)
	assert.Equal(t, "2024-01-01", got["gross_margin"].Period)
	assert.Equal(t, map[string]float64{"revenue": 200, "cogs": 50}, got["gross_margin"].Inputs)
}

func TestComputeOmitsMissingInputs(t *testing.T) {
	t.Parallel()

	e, err := NewEngine()
	require.NoError(t, err)

	got := metricMap(e.Compute("2024-01-01", map[string]float64{"arr": 1000}))
	assert.NotContains(t, got, "churn_rate")
	assert.NotContains(t, got, "arr_per_employee")
	assert.Empty(t, got)
}

func TestComputeOmitsNonFinite(t *testing.T) {
	t.Parallel()

	e, err := NewEngine()
	require.NoError(t, err)

	got := metricMap(e.Compute("2024-01-01", map[string]float64{"revenue": 0, "cogs": 10}))
	assert.NotContains(t, got, "gross_margin")
}

func TestComputeSortedByID(t *testing.T) {
	t.Parallel()

	e, err := NewEngine()
	require.NoError(t, err)

	ms := e.Compute("2024-01-01", map[string]float64{"revenue": 10, "cogs": 5, "ebitda": 1, "mrr": 1})
	require.Len(t, ms, 3)
	assert.Equal(t, "ebitda_margin", ms[0].MetricID)
	assert.Equal(t, "gross_margin", ms[1].MetricID)
	assert.Equal(t, "implied_arr", ms[2].MetricID)
}

func TestGuideOverrides(t *testing.T) {
	t.Parallel()

	e := ForGuide(&model.CompanyGuide{Metrics: []model.MetricDefinition{
		{ID: "implied_arr", Unit: "currency", Inputs: []string{"mrr"}, Formula: "mrr * 13"},
		{ID: "saas_share", Unit: "ratio", Inputs: []string{"subscription_revenue", "revenue"}, Formula: "subscription_revenue / revenue"},
	}})

	got := metricMap(e.Compute("2024-01-01", map[string]float64{"mrr": 10, "subscription_revenue": 30, "revenue": 40}))
	assert.InDelta(t, 130, got["implied_arr"].Value, 1e-9)
	assert.InDelta(t, 0.75, got["saas_share"].Value, 1e-9)
}

func TestInvalidDefinitions(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(model.MetricDefinition{ID: "bad", Inputs: []string{"a"}, Formula: "a + b"})
	assert.Error(t, err)

	_, err = NewEngine(model.MetricDefinition{ID: "none", Formula: "1"})
	assert.Error(t, err)

	_, err = NewEngine(model.MetricDefinition{Inputs: []string{"a"}, Formula: "a"})
	assert.Error(t, err)

	// ForGuide falls back to builtins
	e := ForGuide(&model.CompanyGuide{Slug: "acme", Metrics: []model.MetricDefinition{{ID: "bad", Inputs: []string{"a"}, Formula: "a +"}}})
	assert.Len(t, e.Definitions(), len(Builtins))
}

func TestActualAmountsFiltersScenarioAndPeriod(t *testing.T) {
	t.Parallel()

	facts := []model.LineItemFact{
		{LineItemID: "revenue", Amount: 100, Period: "2024-01-01", Scenario: model.ScenarioActual},
		{LineItemID: "cogs", Amount: 40, Period: "2024-01-01", Scenario: model.ScenarioBudget},
		{LineItemID: "cogs", Amount: 30, Period: "2024-02-01", Scenario: model.ScenarioActual},
	}

	amounts := ActualAmounts(facts, "2024-01-01")
	assert.Equal(t, map[string]float64{"revenue": 100}, amounts)

	e, err := NewEngine()
	require.NoError(t, err)
	assert.NotContains(t, metricMap(e.Compute("2024-01-01", amounts)), "gross_margin")
}
