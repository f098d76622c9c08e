package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/finrecon/internal/cache"
	"github.com/sells-group/finrecon/internal/extract"
	"github.com/sells-group/finrecon/internal/fetcher"
	"github.com/sells-group/finrecon/internal/guide"
	"github.com/sells-group/finrecon/internal/ingest"
	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/ocr"
	"github.com/sells-group/finrecon/internal/reconcile"
	"github.com/sells-group/finrecon/internal/resilience"
	"github.com/sells-group/finrecon/internal/snippet"
	"github.com/sells-group/finrecon/internal/store"
	"github.com/sells-group/finrecon/internal/telemetry"
	anthropicpkg "github.com/sells-group/finrecon/pkg/anthropic"
	"github.com/sells-group/finrecon/pkg/notion"
)

// appEnv holds the initialized store, pipeline and collaborators used by
// the ingest, serve and worker commands.
type appEnv struct {
	Store    store.Store
	Pipeline *ingest.Pipeline
	Oracle   *extract.ClaudeOracle
	Metrics  *telemetry.Metrics

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initEnv builds the pipeline for mode. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{Metrics: telemetry.New()}
	fail := func(err error) (*appEnv, error) {
		env.Close()
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)
	if err := st.Migrate(ctx); err != nil {
		return fail(eris.Wrap(err, "migrate store"))
	}

	c, closeCache, err := initCache(ctx, st)
	if err != nil {
		return fail(err)
	}
	if closeCache != nil {
		env.closers = append(env.closers, closeCache)
	}

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return fail(err)
	}
	ld := loader.New(loader.Options{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:     time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			RatePerHost: rate.Limit(cfg.Fetch.RateLimit),
		}),
		FTP:      fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second}),
		OCR:      extractor,
		MaxBytes: cfg.Fetch.MaxBytes,
	})

	env.Oracle = extract.NewClaudeOracle(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic,
		extract.WithMetrics(env.Metrics),
		extract.WithRetry(resilience.OracleRetry(cfg.Anthropic)),
		extract.WithBreaker(resilience.OracleBreaker(cfg.Anthropic)),
	)

	snippets, err := initSnippets(ctx, env.Metrics)
	if err != nil {
		return fail(err)
	}

	env.Pipeline = ingest.New(ingest.Deps{
		Loader:      ld,
		Cache:       c,
		Oracle:      env.Oracle,
		Guides:      initGuides(),
		Snippets:    snippets,
		Store:       st,
		Reconciler:  reconcile.New(reconcile.WithTolerance(cfg.Ingest.Tolerance)),
		Telemetry:   env.Metrics,
		Concurrency: cfg.Ingest.MaxConcurrentExtractions,
	})

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("guides", cfg.Guides.Source),
		zap.String("ocr", cfg.OCR.Provider),
		zap.Bool("snippets", snippets != nil),
	)
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "finrecon.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCache returns a nil Cache for the "none" backend. The returned close
// function may be nil.
func initCache(ctx context.Context, st store.Store) (cache.Cache, func() error, error) {
	switch cfg.Cache.Backend {
	case "store", "":
		return cache.NewStoreCache(st), nil, nil
	case "memory":
		return cache.NewMemory(), nil, nil
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      time.Duration(cfg.Redis.TTLHours) * time.Hour,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported cache backend: %s", cfg.Cache.Backend)
	}
}

func initGuides() guide.Source {
	switch cfg.Guides.Source {
	case "notion":
		return guide.NotionSource{Client: notion.NewClient(cfg.Guides.NotionToken), DBID: cfg.Guides.NotionDB}
	case "none":
		return nil
	default:
		return guide.FileSource{Dir: cfg.Guides.Dir}
	}
}

// initSnippets returns nil when snippets are disabled.
func initSnippets(ctx context.Context, m *telemetry.Metrics) (ingest.SnippetAttacher, error) {
	if !cfg.Snippets.Enabled {
		return nil, nil
	}
	storage, err := snippet.NewStorage(ctx, cfg.Snippets)
	if err != nil {
		return nil, err
	}
	renderer := snippet.Chain{
		snippet.NewPageRasterizer(cfg.Snippets.PdfToPPMPath, cfg.Snippets.DPI),
		snippet.TextCard{},
	}
	return snippet.NewGenerator(renderer, storage, m), nil
}
