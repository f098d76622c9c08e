// Package workflow runs ingestion batches as Temporal workflows. Extraction
// activities run concurrently; processing activities run one at a time in
// request order, matching ingest.Pipeline.Run.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/finrecon/internal/ingest"
	"github.com/sells-group/finrecon/internal/model"
)

// IngestWorkflowName is the registered workflow type.
const IngestWorkflowName = "IngestBatch"

// ErrTypeInvalidRequest is the application error type of a rejected request.
const ErrTypeInvalidRequest = "InvalidRequest"

var (
	extractOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	processOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
)

// IngestWorkflow ingests one batch.
func IngestWorkflow(ctx workflow.Context, req model.IngestRequest) (*model.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err)
	}
	log := workflow.GetLogger(ctx)
	log.Info("workflow: ingest batch started", "company", req.CompanySlug, "files", len(req.FilePaths))

	var a *Activities
	ectx := workflow.WithActivityOptions(ctx, extractOptions)
	futures := make([]workflow.Future, len(req.FilePaths))
	for i, p := range req.FilePaths {
		futures[i] = workflow.ExecuteActivity(ectx, a.ExtractFile, ExtractInput{
			Path:     p,
			UseCache: req.CacheEnabled(),
			Force:    req.ForceReextract,
		})
	}

	pctx := workflow.WithActivityOptions(ctx, processOptions)
	results := make([]model.FileResult, len(req.FilePaths))
	for i, f := range futures {
		var ex ingest.Extraction
		if err := f.Get(ectx, &ex); err != nil {
			log.Warn("workflow: extract activity failed", "file", req.FilePaths[i], "error", err)
			results[i] = failed(req.FilePaths[i], err)
			continue
		}
		var fr model.FileResult
		err := workflow.ExecuteActivity(pctx, a.ProcessFile, ProcessInput{Company: req.CompanySlug, Extraction: ex}).Get(pctx, &fr)
		if err != nil {
			log.Warn("workflow: process activity failed", "file", req.FilePaths[i], "error", err)
			results[i] = failed(req.FilePaths[i], err)
			continue
		}
		results[i] = fr
	}

	batch := model.NewBatchResult(results)
	log.Info("workflow: ingest batch complete", "status", string(batch.Status))
	return batch, nil
}

func failed(path string, err error) model.FileResult {
	return model.FileResult{
		File:            path,
		Status:          model.StatusError,
		ExtractedData:   []model.LineItemFact{},
		ComputedMetrics: []model.ComputedMetric{},
		Error:           err.Error(),
	}
}
