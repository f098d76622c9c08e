// Package ingest runs the two-phase ingestion pipeline: files are loaded
// and extracted in parallel, then normalized, reconciled and persisted one
// at a time in request order.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finrecon/internal/cache"
	"github.com/sells-group/finrecon/internal/extract"
	"github.com/sells-group/finrecon/internal/guide"
	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/mapper"
	"github.com/sells-group/finrecon/internal/metrics"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/period"
	"github.com/sells-group/finrecon/internal/reconcile"
	"github.com/sells-group/finrecon/internal/snippet"
	"github.com/sells-group/finrecon/internal/store"
	"github.com/sells-group/finrecon/internal/telemetry"
)

// ErrInvalidRequest is returned by Run when the request fails validation.
// It is the only error that fails a whole batch.
var ErrInvalidRequest = eris.New("ingest: invalid request")

// DefaultConcurrency bounds Phase A when Deps.Concurrency is unset.
const DefaultConcurrency = 4

// DocumentLoader reads files and extracts their text.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*loader.Document, error)
	Prepare(ctx context.Context, doc *loader.Document) error
}

// SnippetAttacher renders audit snippets for facts.
type SnippetAttacher interface {
	Attach(ctx context.Context, doc *loader.Document, company string, facts []model.LineItemFact) ([]model.LineItemFact, snippet.Stats)
}

// Deps are the pipeline's collaborators. Cache, Guides, Snippets, Metrics
// and Telemetry are optional.
type Deps struct {
	Loader     DocumentLoader
	Cache      cache.Cache
	Oracle     extract.Oracle
	Guides     guide.Source
	Snippets   SnippetAttacher
	Store      store.Store
	Reconciler *reconcile.Engine
	// Metrics overrides the per-company engine built from the guide.
	Metrics     *metrics.Engine
	Telemetry   *telemetry.Metrics
	Concurrency int
	Now         func() time.Time
}

// Pipeline ingests batches of files. Batches may run concurrently; the
// persistence part of Process holds a per-company lock.
type Pipeline struct {
	d     Deps
	locks companyLocks
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	if d.Reconciler == nil {
		d.Reconciler = reconcile.New()
	}
	if d.Concurrency <= 0 {
		d.Concurrency = DefaultConcurrency
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{d: d}
}

// Run ingests every file in req and summarizes the outcome. Per-file
// failures are reported in the batch; only an invalid request returns an
// error.
func (p *Pipeline) Run(ctx context.Context, req model.IngestRequest) (*model.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, eris.Wrapf(ErrInvalidRequest, "%v", err)
	}

	log := zap.L().With(zap.String("company", req.CompanySlug))
	log.Info("ingest: starting batch", zap.Int("files", len(req.FilePaths)))

	start := time.Now()
	extractions := p.extractAll(ctx, req)
	p.d.Telemetry.Phase("extract", start)

	start = time.Now()
	sess := p.Session(ctx, req.CompanySlug)
	results := make([]model.FileResult, len(extractions))
	for i, ex := range extractions {
		results[i] = p.Process(ctx, sess, ex)
	}
	p.d.Telemetry.Phase("process", start)

	batch := model.NewBatchResult(results)
	log.Info("ingest: batch complete",
		zap.String("status", string(batch.Status)),
		zap.Int("success", batch.Summary.Success),
		zap.Int("needs_review", batch.Summary.NeedsReview),
		zap.Int("error", batch.Summary.Error),
		zap.Int("cached", batch.Summary.Cached),
	)
	return batch, nil
}

// extractAll is Phase A. Each goroutine owns one slot; failures are kept
// in the slot rather than cancelling the group.
func (p *Pipeline) extractAll(ctx context.Context, req model.IngestRequest) []Extraction {
	out := make([]Extraction, len(req.FilePaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.d.Concurrency)
	for i, path := range req.FilePaths {
		g.Go(func() error {
			out[i] = p.Extract(gctx, path, req.CacheEnabled(), req.ForceReextract)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Extraction is the Phase A outcome for one file.
type Extraction struct {
	Path        string                  `json:"path"`
	Filename    string                  `json:"filename,omitempty"`
	FileType    model.FileType          `json:"file_type,omitempty"`
	ContentHash string                  `json:"content_hash,omitempty"`
	Result      *model.ExtractionResult `json:"result,omitempty"`
	Cached      bool                    `json:"cached"`
	Error       string                  `json:"error,omitempty"`

	doc *loader.Document
}

// Extract loads one file and obtains its extraction from the cache or the
// oracle. An oracle failure never falls back to a cached result.
func (p *Pipeline) Extract(ctx context.Context, path string, useCache, force bool) Extraction {
	ex := Extraction{Path: path}
	log := zap.L().With(zap.String("file", path))

	doc, err := p.d.Loader.Load(ctx, path)
	if err != nil {
		log.Warn("ingest: load failed", zap.Error(err))
		ex.Error = eris.Wrap(err, "ingest: load file").Error()
		return ex
	}
	ex.doc = doc
	ex.Filename = doc.Filename
	ex.FileType = doc.FileType
	ex.ContentHash = doc.Hash

	if p.d.Cache != nil && useCache && !force {
		if entry, ok := p.d.Cache.Get(ctx, doc.Hash); ok && validCached(entry, doc.FileType) {
			p.d.Telemetry.CacheLookup(telemetry.CacheHit)
			log.Debug("ingest: extraction cache hit", zap.String("hash", doc.Hash))
			ex.Result = entry.Result
			ex.Cached = true
			return ex
		}
		p.d.Telemetry.CacheLookup(telemetry.CacheMiss)
	} else {
		p.d.Telemetry.CacheLookup(telemetry.CacheBypass)
	}

	if err := p.d.Loader.Prepare(ctx, doc); err != nil {
		log.Warn("ingest: prepare failed", zap.Error(err))
		ex.Error = eris.Wrap(err, "ingest: load file").Error()
		return ex
	}
	result, err := p.d.Oracle.Extract(ctx, doc)
	if err != nil {
		log.Warn("ingest: extraction failed", zap.Error(err))
		ex.Error = eris.Wrap(err, "ingest: extract").Error()
		return ex
	}
	ex.Result = result

	if p.d.Cache != nil && useCache {
		p.d.Cache.Set(ctx, model.CachedExtraction{
			Fingerprint: doc.Hash,
			Filename:    doc.Filename,
			Result:      result,
			CreatedAt:   p.d.Now(),
		})
	}
	return ex
}

func validCached(entry *model.CachedExtraction, ft model.FileType) bool {
	if entry == nil || entry.Result == nil || entry.Result.FileType != ft {
		return false
	}
	if err := entry.Result.Validate(); err != nil {
		zap.L().Warn("ingest: discarding invalid cached extraction",
			zap.String("hash", entry.Fingerprint), zap.Error(err))
		return false
	}
	return true
}

// Session holds the per-company state shared by every file of a batch.
type Session struct {
	Company      string
	Guide        *model.CompanyGuide
	GuideWarning string

	mapper     *mapper.Mapper
	reconciler *reconcile.Engine
	metrics    *metrics.Engine
}

// Session loads the company guide and builds the guide-aware mapper,
// reconciler and metrics engine.
func (p *Pipeline) Session(ctx context.Context, company string) *Session {
	g, warning := guide.LoadOrDefault(ctx, p.d.Guides, company)
	me := p.d.Metrics
	if me == nil {
		me = metrics.ForGuide(g)
	}
	return &Session{
		Company:      company,
		Guide:        g,
		GuideWarning: warning,
		mapper:       mapper.New(g),
		reconciler:   p.d.Reconciler.With(reconcile.WithPriority(reconcile.GuidePriority(g))),
		metrics:      me,
	}
}

// Process is Phase B for one file: resolve the period, map, attach
// snippets, reconcile and persist each period bucket, recompute metrics,
// diff against the previous snapshot and save a new one.
func (p *Pipeline) Process(ctx context.Context, s *Session, ex Extraction) model.FileResult {
	fr := model.FileResult{
		File:            ex.Path,
		Cached:          ex.Cached,
		ContentHash:     ex.ContentHash,
		ExtractedData:   []model.LineItemFact{},
		ComputedMetrics: []model.ComputedMetric{},
	}
	if s.GuideWarning != "" {
		fr.Warnings = append(fr.Warnings, s.GuideWarning)
	}
	fail := func(err error) model.FileResult {
		fr.Status = model.StatusError
		fr.Error = err.Error()
		p.d.Telemetry.FileDone(fr.Status)
		return fr
	}
	if ex.Error != "" || ex.Result == nil {
		msg := ex.Error
		if msg == "" {
			msg = "ingest: no extraction result"
		}
		return fail(eris.New(msg))
	}
	log := zap.L().With(zap.String("company", s.Company), zap.String("file", ex.Filename))

	res, ok := resolvePeriod(ex, p.d.Now())
	if !ok {
		fr.Warnings = append(fr.Warnings, fmt.Sprintf("could not resolve period; defaulting to %s", res.Period))
		log.Warn("ingest: period unresolved, using fallback", zap.String("period", res.Period))
	}
	fr.Period = res.Period

	mapped, stats := s.mapper.Map(ex.Result, ex.Filename, res.Period)
	fr.Warnings = append(fr.Warnings, mapWarnings(stats)...)
	mapped = p.attachSnippets(ctx, s, ex, mapped, &fr)
	explanations := s.mapper.Explanations(ex.Result, res.Period)

	unlock, err := p.locks.lock(ctx, s.Company)
	if err != nil {
		return fail(eris.Wrap(err, "ingest: wait for company lock"))
	}
	defer unlock()

	periods, byPeriod := model.GroupByPeriod(mapped)
	for _, per := range periods {
		facts := byPeriod[per]
		existing, err := p.d.Store.GetFacts(ctx, s.Company, per)
		if err != nil {
			log.Warn("ingest: reading stored facts failed, reconciling as first import",
				zap.String("period", per), zap.Error(err))
			fr.Warnings = append(fr.Warnings, fmt.Sprintf("stored facts for %s unavailable; treated as first import", per))
			existing = nil
		}

		rr := s.reconciler.Reconcile(facts, existing, explanations)
		touched := touchedFacts(rr.Final, facts)
		if err := p.d.Store.PutFacts(ctx, s.Company, touched); err != nil {
			return fail(eris.Wrapf(err, "ingest: persist facts for %s", per))
		}

		computed := s.metrics.Compute(per, metrics.ActualAmounts(rr.Final, per))
		if err := p.d.Store.ReplaceMetrics(ctx, s.Company, per, computed); err != nil {
			return fail(eris.Wrapf(err, "ingest: persist metrics for %s", per))
		}

		fr.Reconciliation.Summary.Add(rr.Summary)
		fr.Reconciliation.Changes = append(fr.Reconciliation.Changes, rr.Changes...)
		fr.Reconciliation.Conflicts = append(fr.Reconciliation.Conflicts, rr.Conflicts...)
		fr.ExtractedData = append(fr.ExtractedData, touched...)
		fr.ComputedMetrics = append(fr.ComputedMetrics, computed...)
	}
	if fr.Reconciliation.Changes == nil {
		fr.Reconciliation.Changes = []model.ChangeEntry{}
	}
	if fr.Reconciliation.Conflicts == nil {
		fr.Reconciliation.Conflicts = []model.ConflictEntry{}
	}
	fr.LineItemsFound = len(mapped)
	fr.MetricsComputed = len(fr.ComputedMetrics)
	p.d.Telemetry.Reconciled(fr.Reconciliation.Summary)

	prev, err := p.d.Store.LatestSnapshot(ctx, s.Company, ex.Filename)
	if err != nil {
		log.Warn("ingest: reading previous snapshot failed", zap.Error(err))
		fr.Warnings = append(fr.Warnings, "previous extraction unavailable; diff skipped")
	} else if prev != nil {
		fr.Diff = Diff(prev, mapped, s.reconciler.Equal)
	}

	snap := model.ExtractionSnapshot{
		ID:          newSnapshotID(),
		Company:     s.Company,
		Filename:    ex.Filename,
		ContentHash: ex.ContentHash,
		FileType:    ex.FileType,
		Period:      res.Period,
		Extraction:  ex.Result,
		LineItems:   mapped,
		Metrics:     fr.ComputedMetrics,
		CreatedAt:   p.d.Now(),
	}
	if _, err := p.d.Store.SaveSnapshot(ctx, snap); err != nil {
		return fail(eris.Wrap(err, "ingest: save snapshot"))
	}

	fr.Status = model.StatusSuccess
	if len(mapped) == 0 {
		fr.Status = model.StatusNeedsReview
		fr.Warnings = append(fr.Warnings, "no line items mapped; needs review")
	}
	p.d.Telemetry.FileDone(fr.Status)
	log.Info("ingest: file processed",
		zap.String("status", string(fr.Status)),
		zap.String("period", fr.Period),
		zap.Int("line_items", fr.LineItemsFound),
		zap.Int("inserted", fr.Reconciliation.Summary.Inserted),
		zap.Int("updated", fr.Reconciliation.Summary.Updated),
		zap.Int("conflicts", fr.Reconciliation.Summary.Conflicts),
	)
	return fr
}

func (p *Pipeline) attachSnippets(ctx context.Context, s *Session, ex Extraction, facts []model.LineItemFact, fr *model.FileResult) []model.LineItemFact {
	if p.d.Snippets == nil || len(facts) == 0 {
		return facts
	}
	doc, err := p.documentFor(ctx, ex)
	if err != nil {
		zap.L().Warn("ingest: snippets skipped", zap.String("file", ex.Filename), zap.Error(err))
		fr.Warnings = append(fr.Warnings, "audit snippets skipped: "+err.Error())
		return facts
	}
	out, stats := p.d.Snippets.Attach(ctx, doc, s.Company, facts)
	if stats.Failed > 0 {
		fr.Warnings = append(fr.Warnings, fmt.Sprintf("%d audit snippets could not be rendered", stats.Failed))
	}
	return out
}

// documentFor returns the loaded, prepared document behind ex, reloading
// it when Phase A ran elsewhere.
func (p *Pipeline) documentFor(ctx context.Context, ex Extraction) (*loader.Document, error) {
	doc := ex.doc
	if doc == nil {
		var err error
		if doc, err = p.d.Loader.Load(ctx, ex.Path); err != nil {
			return nil, err
		}
		if doc.Hash != ex.ContentHash {
			return nil, eris.Errorf("ingest: %s changed since extraction", ex.Path)
		}
	}
	if err := p.d.Loader.Prepare(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func resolvePeriod(ex Extraction, now time.Time) (period.Resolution, bool) {
	r, ok := period.ResolveFile(ex.Result.Period, ex.Result.PeriodHints, ex.Filename)
	if !ok {
		return period.Fallback(now), false
	}
	return r, true
}

func mapWarnings(s mapper.Stats) []string {
	var out []string
	if s.Unparseable > 0 {
		out = append(out, fmt.Sprintf("%d line items dropped: unparseable amount", s.Unparseable))
	}
	if s.Unmapped > 0 {
		out = append(out, fmt.Sprintf("%d line items dropped: label not in guide %q", s.Unmapped, s.UnmappedList))
	}
	return out
}

// touchedFacts returns the reconciled records for the keys this file
// reported.
func touchedFacts(final, reported []model.LineItemFact) []model.LineItemFact {
	keys := make(map[model.FactKey]struct{}, len(reported))
	for _, f := range reported {
		keys[f.Key()] = struct{}{}
	}
	out := make([]model.LineItemFact, 0, len(keys))
	for _, f := range final {
		if _, ok := keys[f.Key()]; ok {
			out = append(out, f)
		}
	}
	return out
}
