package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finrecon/internal/cache"
	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/reconcile"
	"github.com/sells-group/finrecon/internal/snippet"
	"github.com/sells-group/finrecon/internal/store"
	"github.com/sells-group/finrecon/internal/telemetry"
)

var testNow = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	dir      string
	pipeline *Pipeline
	store    store.Store
	oracle   *mockOracle
	cache    *cache.Memory
	metrics  *telemetry.Metrics
}

func newHarness(t *testing.T, snippets SnippetAttacher) *harness {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "finrecon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))

	h := &harness{
		dir:     t.TempDir(),
		store:   s,
		oracle:  &mockOracle{},
		cache:   cache.NewMemory(),
		metrics: telemetry.New(),
	}
	h.pipeline = New(Deps{
		Loader:     loader.New(loader.Options{}),
		Cache:      h.cache,
		Oracle:     h.oracle,
		Snippets:   snippets,
		Store:      s,
		Reconciler: reconcile.New(reconcile.WithClock(func() time.Time { return testNow })),
		Telemetry:  h.metrics,
		Now:        func() time.Time { return testNow },
	})
	return h
}

func (h *harness) file(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4\n"+body), 0o644))
	return p
}

func named(name string) any {
	return mock.MatchedBy(func(d *loader.Document) bool { return d.Filename == name })
}

func pdfResult(period string, items ...model.PDFLineItem) *model.ExtractionResult {
	return &model.ExtractionResult{
		FileType: model.FileTypePDF,
		Period:   period,
		PDF:      &model.PDFExtraction{LineItems: items},
	}
}

func arr(value string) model.PDFLineItem {
	return model.PDFLineItem{Label: "ARR", Value: model.RawAmount(value), Page: 1, BBox: []float64{10, 10, 200, 30}}
}

func request(paths ...string) model.IngestRequest {
	return model.IngestRequest{CompanySlug: "acme", FilePaths: paths}
}

func TestRun_HigherPriorityFileUpdatesFact(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.file(t, "acme_2024-03.pdf", "a")
	b := h.file(t, "acme_final_2024-03.pdf", "b")
	h.oracle.On("Extract", mock.Anything, named("acme_2024-03.pdf")).Return(pdfResult("March 2024", arr("100")), nil)
	h.oracle.On("Extract", mock.Anything, named("acme_final_2024-03.pdf")).Return(pdfResult("March 2024", arr("110")), nil)

	batch, err := h.pipeline.Run(ctx, request(a, b))
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuccess, batch.Status)
	require.Len(t, batch.Results, 2)

	first, second := batch.Results[0], batch.Results[1]
	assert.Equal(t, a, first.File)
	assert.Equal(t, model.StatusSuccess, first.Status)
	assert.Equal(t, "2024-03-01", first.Period)
	assert.Equal(t, 1, first.Reconciliation.Summary.Inserted)
	assert.Nil(t, first.Diff)

	assert.Equal(t, 1, second.Reconciliation.Summary.Updated)
	require.Len(t, second.Reconciliation.Changes, 1)
	assert.Equal(t, model.ChangeUpdate, second.Reconciliation.Changes[0].Kind)
	require.Len(t, second.ExtractedData, 1)
	assert.Len(t, second.ExtractedData[0].Changelog, 2)

	facts, err := h.store.GetFacts(ctx, "acme", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.InDelta(t, 110, facts[0].Amount, 0)
	assert.Equal(t, "acme_final_2024-03.pdf", facts[0].SourceFile)
	assert.Len(t, facts[0].Changelog, 2)

	periods, err := h.store.ListPeriods(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-01"}, periods)
}

func TestRun_LowerPriorityFileIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	final := h.file(t, "acme_final_2024-03.pdf", "final")
	prelim := h.file(t, "acme_preliminary_2024-03.pdf", "prelim")
	h.oracle.On("Extract", mock.Anything, named("acme_final_2024-03.pdf")).Return(pdfResult("2024-03", arr("110")), nil)
	h.oracle.On("Extract", mock.Anything, named("acme_preliminary_2024-03.pdf")).Return(pdfResult("2024-03", arr("95")), nil)

	batch, err := h.pipeline.Run(ctx, request(final, prelim))
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Results[1].Reconciliation.Summary.Rejected)

	facts, err := h.store.GetFacts(ctx, "acme", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.InDelta(t, 110, facts[0].Amount, 0)
	assert.Len(t, facts[0].Changelog, 2)
}

func TestRun_CacheHitIgnoresFilename(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	orig := h.file(t, "deck_2024-03.pdf", "same bytes")
	dup := h.file(t, "copy of deck_2024-03.pdf", "same bytes")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03", arr("100")), nil)

	batch, err := h.pipeline.Run(ctx, request(orig))
	require.NoError(t, err)
	assert.False(t, batch.Results[0].Cached)

	batch, err = h.pipeline.Run(ctx, request(dup))
	require.NoError(t, err)
	assert.True(t, batch.Results[0].Cached)
	assert.Equal(t, 1, batch.Summary.Cached)
	h.oracle.AssertNumberOfCalls(t, "Extract", 1)
	assert.Equal(t, 1, h.cache.Len())
}

func TestRun_CacheDisabledAndForced(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p := h.file(t, "deck_2024-03.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03", arr("100")), nil)

	off := false
	req := request(p)
	req.UseCache = &off
	_, err := h.pipeline.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, h.cache.Len())

	_, err = h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)

	req = request(p)
	req.ForceReextract = true
	batch, err := h.pipeline.Run(ctx, req)
	require.NoError(t, err)
	assert.False(t, batch.Results[0].Cached)
	h.oracle.AssertNumberOfCalls(t, "Extract", 3)
}

func TestRun_OracleFailureDoesNotUseCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p := h.file(t, "deck_2024-03.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03", arr("100")), nil).Once()
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(nil, extractErr).Once()

	_, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)

	req := request(p)
	req.ForceReextract = true
	batch, err := h.pipeline.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.BatchError, batch.Status)
	assert.Equal(t, model.StatusError, batch.Results[0].Status)
	assert.Contains(t, batch.Results[0].Error, "model overloaded")
}

func TestRun_ReingestIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p := h.file(t, "deck_2024-03.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03", arr("100")), nil)

	_, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)
	batch, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)

	res := batch.Results[0]
	assert.Equal(t, model.ReconcileSummary{Ignored: 1}, res.Reconciliation.Summary)
	require.NotNil(t, res.Diff)
	assert.Empty(t, res.Diff.Added)
	assert.Empty(t, res.Diff.Removed)
	assert.Empty(t, res.Diff.Changed)

	facts, err := h.store.GetFacts(ctx, "acme", "2024-03-01")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Len(t, facts[0].Changelog, 1)
}

func TestRun_DiffAgainstPreviousExtraction(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p := h.file(t, "deck_2024-03.pdf", "v1")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03",
		arr("100"),
		model.PDFLineItem{Label: "Cash", Value: "500", Page: 2},
	), nil).Once()
	_, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4\nv2"), 0o644))
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03",
		arr("120"),
		model.PDFLineItem{Label: "Headcount", Value: "42", Page: 3},
	), nil).Once()
	batch, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)

	d := batch.Results[0].Diff
	require.NotNil(t, d)
	assert.Equal(t, []model.FactKey{{LineItemID: "headcount", Period: "2024-03-01", Scenario: model.ScenarioActual}}, d.Added)
	assert.Equal(t, []model.FactKey{{LineItemID: "cash", Period: "2024-03-01", Scenario: model.ScenarioActual}}, d.Removed)
	require.Len(t, d.Changed, 1)
	assert.InDelta(t, 100, d.Changed[0].OldValue, 0)
	assert.InDelta(t, 120, d.Changed[0].NewValue, 0)
	assert.Equal(t, cache.Fingerprint([]byte("%PDF-1.4\nv1")), d.PreviousHash)
}

func TestRun_ZeroMappedItemsNeedsReview(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p := h.file(t, "deck_2024-03.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03",
		model.PDFLineItem{Label: "Favourite colour", Value: "7", Page: 1},
	), nil)

	batch, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)
	assert.Equal(t, model.BatchSuccess, batch.Status)
	res := batch.Results[0]
	assert.Equal(t, model.StatusNeedsReview, res.Status)
	assert.Equal(t, 0, res.LineItemsFound)
	assert.NotEmpty(t, res.Warnings)
	assert.Empty(t, res.ExtractedData)
}

func TestRun_PeriodFallbackWarns(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	p := h.file(t, "board deck.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("", arr("100")), nil)

	batch, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)
	res := batch.Results[0]
	assert.Equal(t, "2024-05-01", res.Period)
	assert.Contains(t, res.Warnings, "could not resolve period; defaulting to 2024-05-01")
}

func TestRun_PerFileErrorsDoNotFailBatch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	good := h.file(t, "deck_2024-03.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03", arr("100")), nil)

	batch, err := h.pipeline.Run(ctx, request(filepath.Join(h.dir, "missing.pdf"), good))
	require.NoError(t, err)
	assert.Equal(t, model.BatchPartial, batch.Status)
	assert.Equal(t, model.StatusError, batch.Results[0].Status)
	assert.NotEmpty(t, batch.Results[0].Error)
	assert.Equal(t, model.StatusSuccess, batch.Results[1].Status)
	assert.Equal(t, 1, batch.Summary.Error)
}

func TestRun_InvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.pipeline.Run(context.Background(), model.IngestRequest{CompanySlug: "acme"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	h.oracle.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestRun_AttachesSnippets(t *testing.T) {
	snips := &mockSnippets{}
	h := newHarness(t, snips)
	ctx := context.Background()

	p := h.file(t, "deck_2024-03.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03", arr("100")), nil)
	snips.On("Attach", mock.Anything, named("deck_2024-03.pdf"), "acme", mock.Anything).
		Return(func(_ context.Context, _ *loader.Document, _ string, facts []model.LineItemFact) []model.LineItemFact {
			out := make([]model.LineItemFact, len(facts))
			for i, f := range facts {
				f.SnippetURL = "file:///snippets/" + f.LineItemID + ".png"
				out[i] = f
			}
			return out
		}, snippet.Stats{Rendered: 1})

	batch, err := h.pipeline.Run(ctx, request(p))
	require.NoError(t, err)
	require.Len(t, batch.Results[0].ExtractedData, 1)
	assert.Equal(t, "file:///snippets/arr.png", batch.Results[0].ExtractedData[0].SnippetURL)

	facts, err := h.store.GetFacts(ctx, "acme", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "file:///snippets/arr.png", facts[0].SnippetURL)
}

func TestExtract_ReloadsDocumentForProcess(t *testing.T) {
	snips := &mockSnippets{}
	h := newHarness(t, snips)
	ctx := context.Background()

	p := h.file(t, "deck_2024-03.pdf", "x")
	h.oracle.On("Extract", mock.Anything, mock.Anything).Return(pdfResult("2024-03", arr("100")), nil)
	snips.On("Attach", mock.Anything, mock.Anything, "acme", mock.Anything).
		Return(nil, snippet.Stats{})

	ex := h.pipeline.Extract(ctx, p, true, false)
	require.Empty(t, ex.Error)
	ex.doc = nil

	res := h.pipeline.Process(ctx, h.pipeline.Session(ctx, "acme"), ex)
	assert.Equal(t, model.StatusSuccess, res.Status)
	snips.AssertNumberOfCalls(t, "Attach", 1)

	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4\nchanged"), 0o644))
	res = h.pipeline.Process(ctx, h.pipeline.Session(ctx, "acme"), ex)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.Warnings)
	snips.AssertNumberOfCalls(t, "Attach", 1)
}
