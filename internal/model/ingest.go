package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// IngestRequest asks the pipeline to ingest a batch of files for one company.
type IngestRequest struct {
	CompanySlug    string   `json:"companySlug" validate:"required"`
	FilePaths      []string `json:"filePaths" validate:"required,min=1,dive,required"`
	UseCache       *bool    `json:"useCache,omitempty"`
	ForceReextract bool     `json:"forceReextract,omitempty"`
}

// CacheEnabled reports whether the extraction cache participates; it
// defaults to true when unset.
func (r IngestRequest) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

// Validate checks required request fields.
func (r IngestRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrap(err, "model: invalid ingest request")
	}
	return nil
}

// ComputedMetric is a derived financial metric for one period.
type ComputedMetric struct {
	MetricID string             `json:"metric_id"`
	Value    float64            `json:"value"`
	Unit     string             `json:"unit"`
	Period   string             `json:"period"`
	Inputs   map[string]float64 `json:"inputs,omitempty"`
}

// ChangeEntry reports one reconciliation outcome that touched a fact.
type ChangeEntry struct {
	LineItemID  string     `json:"line_item_id"`
	Period      string     `json:"period"`
	Scenario    Scenario   `json:"scenario"`
	Kind        ChangeKind `json:"kind"`
	OldValue    *float64   `json:"old_value,omitempty"`
	NewValue    float64    `json:"new_value"`
	SourceFile  string     `json:"source_file"`
	Explanation string     `json:"explanation,omitempty"`
}

// Conflict resolutions.
const (
	ResolutionKeptNew      = "kept_new"
	ResolutionKeptExisting = "kept_existing"
)

// ConflictEntry records a disagreement that priority alone could not settle.
type ConflictEntry struct {
	LineItemID       string   `json:"line_item_id"`
	Period           string   `json:"period"`
	Scenario         Scenario `json:"scenario"`
	ExistingValue    float64  `json:"existing_value"`
	NewValue         float64  `json:"new_value"`
	ExistingSource   string   `json:"existing_source"`
	NewSource        string   `json:"new_source"`
	ExistingPriority int      `json:"existing_priority"`
	NewPriority      int      `json:"new_priority"`
	Resolution       string   `json:"resolution"`
	Reason           string   `json:"reason"`
}

// ReconcileSummary counts reconciliation outcomes.
type ReconcileSummary struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Rejected  int `json:"rejected"`
	Confirmed int `json:"confirmed"`
	Ignored   int `json:"ignored"`
	Conflicts int `json:"conflicts"`
}

// Add accumulates o into s.
func (s *ReconcileSummary) Add(o ReconcileSummary) {
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Rejected += o.Rejected
	s.Confirmed += o.Confirmed
	s.Ignored += o.Ignored
	s.Conflicts += o.Conflicts
}

// ReconcileReport is the externally visible part of a reconciliation.
type ReconcileReport struct {
	Summary   ReconcileSummary `json:"summary"`
	Changes   []ChangeEntry    `json:"changes"`
	Conflicts []ConflictEntry  `json:"conflicts"`
}

// ValueChange describes a line item whose value moved between snapshots.
type ValueChange struct {
	Key      FactKey `json:"key"`
	OldValue float64 `json:"old_value"`
	NewValue float64 `json:"new_value"`
}

// SnapshotDiff compares a file's extraction with its previous extraction.
type SnapshotDiff struct {
	PreviousHash string        `json:"previous_hash"`
	Added        []FactKey     `json:"added"`
	Removed      []FactKey     `json:"removed"`
	Changed      []ValueChange `json:"changed"`
}

// ExtractionSnapshot is an immutable record of one extraction of one file
// version, keyed by (company, filename, content hash).
type ExtractionSnapshot struct {
	ID          string            `json:"id"`
	Company     string            `json:"company"`
	Filename    string            `json:"filename"`
	ContentHash string            `json:"content_hash"`
	FileType    FileType          `json:"file_type"`
	Period      string            `json:"period"`
	Extraction  *ExtractionResult `json:"extraction"`
	LineItems   []LineItemFact    `json:"line_items"`
	Metrics     []ComputedMetric  `json:"metrics"`
	CreatedAt   time.Time         `json:"created_at"`
}

// FileStatus is the per-file outcome.
type FileStatus string

const (
	StatusSuccess     FileStatus = "success"
	StatusNeedsReview FileStatus = "needs_review"
	StatusError       FileStatus = "error"
)

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	File            string           `json:"file"`
	Status          FileStatus       `json:"status"`
	Period          string           `json:"period,omitempty"`
	LineItemsFound  int              `json:"line_items_found"`
	MetricsComputed int              `json:"metrics_computed"`
	Reconciliation  ReconcileReport  `json:"reconciliation"`
	ExtractedData   []LineItemFact   `json:"extracted_data"`
	ComputedMetrics []ComputedMetric `json:"computed_metrics"`
	Diff            *SnapshotDiff    `json:"diff"`
	Cached          bool             `json:"cached"`
	ContentHash     string           `json:"content_hash,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// BatchStatus is the overall outcome of a batch.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchError   BatchStatus = "error"
)

// BatchSummary counts per-file outcomes.
type BatchSummary struct {
	Total       int `json:"total"`
	Success     int `json:"success"`
	NeedsReview int `json:"needs_review"`
	Error       int `json:"error"`
	Cached      int `json:"cached"`
}

// BatchResult is the response to an ingestion request.
type BatchResult struct {
	Status  BatchStatus  `json:"status"`
	Summary BatchSummary `json:"summary"`
	Results []FileResult `json:"results"`
}

// NewBatchResult summarizes per-file results. The batch is an error only
// when every file failed.
func NewBatchResult(results []FileResult) *BatchResult {
	b := &BatchResult{Results: results}
	b.Summary.Total = len(results)
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			b.Summary.Success++
		case StatusNeedsReview:
			b.Summary.NeedsReview++
		case StatusError:
			b.Summary.Error++
		}
		if r.Cached {
			b.Summary.Cached++
		}
	}
	switch {
	case b.Summary.Total > 0 && b.Summary.Error == b.Summary.Total:
		b.Status = BatchError
	case b.Summary.Error > 0:
		b.Status = BatchPartial
	default:
		b.Status = BatchSuccess
	}
	return b
}
