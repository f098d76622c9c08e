// Package api exposes ingestion and read access to reconciled facts over
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/ingest"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/period"
	"github.com/sells-group/finrecon/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// Ingester runs ingestion batches.
type Ingester interface {
	Run(ctx context.Context, req model.IngestRequest) (*model.BatchResult, error)
}

// Reader is the read side of the store.
type Reader interface {
	ListPeriods(ctx context.Context, company string) ([]string, error)
	GetFacts(ctx context.Context, company, period string) ([]model.LineItemFact, error)
	GetMetrics(ctx context.Context, company, period string) ([]model.ComputedMetric, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// RequestTimeout bounds every request, ingestion included.
	RequestTimeout time.Duration
	Metrics        *telemetry.Metrics
}

// Server holds the HTTP handlers.
type Server struct {
	ingester Ingester
	reader   Reader
}

// NewRouter builds the HTTP handler.
func NewRouter(ing Ingester, rd Reader, opts Options) http.Handler {
	s := &Server{ingester: ing, reader: rd}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		r.Post("/ingest", s.ingest)
		r.Route("/companies/{company}/periods", func(r chi.Router) {
			r.Get("/", s.periods)
			r.Get("/{period}/facts", s.facts)
			r.Get("/{period}/metrics", s.metrics)
		})
	})
	return r
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	batch, err := s.ingester.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Error("api: ingest failed", zap.String("company", req.CompanySlug), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) periods(w http.ResponseWriter, r *http.Request) {
	company := chi.URLParam(r, "company")
	periods, err := s.reader.ListPeriods(r.Context(), company)
	if err != nil {
		s.readFailed(w, "periods", company, err)
		return
	}
	if periods == nil {
		periods = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": company, "periods": periods})
}

// facts serves the stored facts of one period, optionally filtered by
// ?scenario=.
func (s *Server) facts(w http.ResponseWriter, r *http.Request) {
	company, p, ok := companyPeriod(w, r)
	if !ok {
		return
	}
	var scenario model.Scenario
	if raw := r.URL.Query().Get("scenario"); raw != "" {
		if scenario, ok = model.ParseScenario(raw); !ok {
			writeError(w, http.StatusBadRequest, "unknown scenario "+raw)
			return
		}
	}

	facts, err := s.reader.GetFacts(r.Context(), company, p)
	if err != nil {
		s.readFailed(w, "facts", company, err)
		return
	}
	out := make([]model.LineItemFact, 0, len(facts))
	for _, f := range facts {
		if scenario == "" || f.Scenario == scenario {
			out = append(out, f)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": company, "period": p, "facts": out})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	company, p, ok := companyPeriod(w, r)
	if !ok {
		return
	}
	metrics, err := s.reader.GetMetrics(r.Context(), company, p)
	if err != nil {
		s.readFailed(w, "metrics", company, err)
		return
	}
	if metrics == nil {
		metrics = []model.ComputedMetric{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"company": company, "period": p, "metrics": metrics})
}

func (s *Server) readFailed(w http.ResponseWriter, what, company string, err error) {
	zap.L().Error("api: read failed", zap.String("what", what), zap.String("company", company), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "could not read "+what)
}

// companyPeriod accepts canonical periods and anything the period
// resolver understands ("2024-03", "Q1 2024").
func companyPeriod(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	raw := chi.URLParam(r, "period")
	p := raw
	if !period.Valid(p) {
		var ok bool
		if p, ok = period.Resolve(raw); !ok {
			writeError(w, http.StatusBadRequest, "invalid period "+raw)
			return "", "", false
		}
	}
	return chi.URLParam(r, "company"), p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
