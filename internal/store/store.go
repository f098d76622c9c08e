// Package store persists reconciled facts, computed metrics, extraction
// snapshots and the extraction cache.
package store

import (
	"context"

	"github.com/sells-group/finrecon/internal/model"
)

// Store is the persistence contract of the ingestion pipeline. Facts are
// upserted per (company, period, line item, scenario); metrics are replaced
// wholesale per (company, period); snapshots are insert-if-absent.
type Store interface {
	// Facts
	GetFacts(ctx context.Context, company, period string) ([]model.LineItemFact, error)
	PutFacts(ctx context.Context, company string, facts []model.LineItemFact) error
	ListPeriods(ctx context.Context, company string) ([]string, error)

	// Metrics
	GetMetrics(ctx context.Context, company, period string) ([]model.ComputedMetric, error)
	ReplaceMetrics(ctx context.Context, company, period string, metrics []model.ComputedMetric) error

	// Snapshots. SaveSnapshot reports whether a new row was written.
	SaveSnapshot(ctx context.Context, snap model.ExtractionSnapshot) (bool, error)
	// LatestSnapshot returns nil, nil when the file was never ingested.
	LatestSnapshot(ctx context.Context, company, filename string) (*model.ExtractionSnapshot, error)

	// Extraction cache. A miss is nil, nil.
	GetCachedExtraction(ctx context.Context, fingerprint string) (*model.CachedExtraction, error)
	SetCachedExtraction(ctx context.Context, entry model.CachedExtraction) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func factRow(company string, f model.LineItemFact) (key [4]string, record []byte, err error) {
	record, err = marshal(f)
	return [4]string{company, f.Period, f.LineItemID, string(f.Scenario)}, record, err
}
