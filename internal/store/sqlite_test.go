package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finrecon/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fact(id, period string, scenario model.Scenario, amount float64) model.LineItemFact {
	return model.LineItemFact{
		LineItemID: id,
		Label:      id,
		Amount:     amount,
		Period:     period,
		Scenario:   scenario,
		SourceFile: "deck.pdf",
		SourceLocation: &model.SourceLocation{
			Page: 2,
			BBox: []float64{1, 2, 3, 4},
		},
		Changelog: []model.ChangeLogEntry{{ID: "c1", Kind: model.ChangeInitialImport, Value: amount, SourceFile: "deck.pdf", Priority: 2}},
	}
}

func TestSQLite_Store(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("PutAndGetFacts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		in := []model.LineItemFact{
			fact("revenue", "2024-01-01", model.ScenarioActual, 500),
			fact("arr", "2024-01-01", model.ScenarioActual, 100),
			fact("arr", "2024-01-01", model.ScenarioBudget, 90),
			fact("arr", "2024-02-01", model.ScenarioActual, 120),
		}
		require.NoError(t, s.PutFacts(ctx, "acme", in))

		got, err := s.GetFacts(ctx, "acme", "2024-01-01")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "arr", got[0].LineItemID)
		assert.Equal(t, model.ScenarioActual, got[0].Scenario)
		assert.Equal(t, model.ScenarioBudget, got[1].Scenario)
		assert.Equal(t, "revenue", got[2].LineItemID)
		assert.Equal(t, in[1], got[0])

		other, err := s.GetFacts(ctx, "other", "2024-01-01")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("PutFactsUpsertsPerKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutFacts(ctx, "acme", []model.LineItemFact{fact("arr", "2024-01-01", model.ScenarioActual, 100)}))

		updated := fact("arr", "2024-01-01", model.ScenarioActual, 110)
		updated.Changelog = append(updated.Changelog, model.ChangeLogEntry{ID: "c2", Kind: model.ChangeUpdate, Value: 110})
		require.NoError(t, s.PutFacts(ctx, "acme", []model.LineItemFact{updated}))

		got, err := s.GetFacts(ctx, "acme", "2024-01-01")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 110, got[0].Amount, 0)
		assert.Len(t, got[0].Changelog, 2)
	})

	t.Run("PutFactsEmpty", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.PutFacts(context.Background(), "acme", nil))
	})

	t.Run("ListPeriods", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.PutFacts(ctx, "acme", []model.LineItemFact{
			fact("arr", "2024-02-01", model.ScenarioActual, 1),
			fact("arr", "2024-01-01", model.ScenarioActual, 1),
			fact("mrr", "2024-01-01", model.ScenarioActual, 1),
		}))

		periods, err := s.ListPeriods(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-01-01", "2024-02-01"}, periods)
	})

	t.Run("ReplaceMetrics", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.ReplaceMetrics(ctx, "acme", "2024-01-01", []model.ComputedMetric{
			{MetricID: "implied_arr", Value: 1200, Unit: "currency", Period: "2024-01-01", Inputs: map[string]float64{"mrr": 100}},
			{MetricID: "gross_margin", Value: 0.5, Unit: "ratio", Period: "2024-01-01", Inputs: map[string]float64{"revenue": 2, "cogs": 1}},
		}))
		require.NoError(t, s.ReplaceMetrics(ctx, "acme", "2024-02-01", []model.ComputedMetric{
			{MetricID: "implied_arr", Value: 1, Unit: "currency", Period: "2024-02-01"},
		}))

		got, err := s.GetMetrics(ctx, "acme", "2024-01-01")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "gross_margin", got[0].MetricID)
		assert.Equal(t, map[string]float64{"revenue": 2, "cogs": 1}, got[0].Inputs)

		require.NoError(t, s.ReplaceMetrics(ctx, "acme", "2024-01-01", []model.ComputedMetric{
			{MetricID: "implied_arr", Value: 1300, Unit: "currency", Period: "2024-01-01"},
		}))
		got, err = s.GetMetrics(ctx, "acme", "2024-01-01")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 1300, got[0].Value, 0)

		feb, err := s.GetMetrics(ctx, "acme", "2024-02-01")
		require.NoError(t, err)
		assert.Len(t, feb, 1)
	})

	t.Run("SnapshotsInsertIfAbsent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		none, err := s.LatestSnapshot(ctx, "acme", "deck.pdf")
		require.NoError(t, err)
		assert.Nil(t, none)

		first := model.ExtractionSnapshot{Company: "acme", Filename: "deck.pdf", ContentHash: "h1", FileType: model.FileTypePDF, Period: "2024-01-01"}
		inserted, err := s.SaveSnapshot(ctx, first)
		require.NoError(t, err)
		assert.True(t, inserted)

		dup := first
		dup.Period = "2099-01-01"
		inserted, err = s.SaveSnapshot(ctx, dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := s.LatestSnapshot(ctx, "acme", "deck.pdf")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "2024-01-01", got.Period)
		assert.NotEmpty(t, got.ID)

		second := model.ExtractionSnapshot{Company: "acme", Filename: "deck.pdf", ContentHash: "h2", Period: "2024-02-01"}
		inserted, err = s.SaveSnapshot(ctx, second)
		require.NoError(t, err)
		assert.True(t, inserted)

		got, err = s.LatestSnapshot(ctx, "acme", "deck.pdf")
		require.NoError(t, err)
		assert.Equal(t, "h2", got.ContentHash)
	})

	t.Run("ExtractionCache", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		miss, err := s.GetCachedExtraction(ctx, "abc")
		require.NoError(t, err)
		assert.Nil(t, miss)

		entry := model.CachedExtraction{
			Fingerprint: "abc",
			Filename:    "a.pdf",
			Result:      &model.ExtractionResult{FileType: model.FileTypePDF, PDF: &model.PDFExtraction{}},
		}
		require.NoError(t, s.SetCachedExtraction(ctx, entry))

		entry.Filename = "b.pdf"
		require.NoError(t, s.SetCachedExtraction(ctx, entry))

		got, err := s.GetCachedExtraction(ctx, "abc")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "b.pdf", got.Filename)
		assert.Equal(t, model.FileTypePDF, got.Result.FileType)
	})
}
