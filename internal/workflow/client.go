package workflow

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/config"
	"github.com/sells-group/finrecon/internal/model"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrap(err, "workflow: dial temporal")
	}
	return c, nil
}

// NewWorker registers the ingest workflow and activities on taskQueue.
// maxExtractions bounds concurrently running activities on this worker.
func NewWorker(c client.Client, taskQueue string, maxExtractions int, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxExtractions,
	})
	w.RegisterWorkflowWithOptions(IngestWorkflow, workflow.RegisterOptions{Name: IngestWorkflowName})
	w.RegisterActivity(acts)
	return w
}

// ErrBatchInProgress is returned by Run while another ingest workflow for
// the same company is still open.
var ErrBatchInProgress = eris.New("workflow: ingest already running for company")

// WorkflowID is the id of the ingest workflow for company. At most one
// execution per id is open at a time, so batches for one company never
// reconcile concurrently across workers.
func WorkflowID(company string) string {
	return "ingest-" + company
}

// Run starts an ingest workflow and waits for its result.
func Run(ctx context.Context, c client.Client, taskQueue string, req model.IngestRequest) (*model.BatchResult, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(req.CompanySlug),
		TaskQueue: taskQueue,
		// Without this the client silently attaches to the open run.
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, IngestWorkflowName, req)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, eris.Wrapf(ErrBatchInProgress, "workflow: %s", req.CompanySlug)
		}
		return nil, eris.Wrap(err, "workflow: start ingest")
	}
	zap.L().Info("workflow: started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)

	var batch model.BatchResult
	if err := run.Get(ctx, &batch); err != nil {
		return nil, eris.Wrap(err, "workflow: ingest")
	}
	return &batch, nil
}
