package workflow

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/sells-group/finrecon/internal/ingest"
	"github.com/sells-group/finrecon/internal/model"
)

// ExtractInput is the ExtractFile activity argument.
type ExtractInput struct {
	Path     string `json:"path"`
	UseCache bool   `json:"use_cache"`
	Force    bool   `json:"force"`
}

// ProcessInput is the ProcessFile activity argument.
type ProcessInput struct {
	Company    string            `json:"company"`
	Extraction ingest.Extraction `json:"extraction"`
}

// Activities wraps a pipeline's phases as Temporal activities. File-level
// failures are carried in the returned values, so activity errors only
// come from infrastructure (timeouts, worker loss).
type Activities struct {
	Pipeline *ingest.Pipeline
}

// ExtractFile is Phase A for one file.
func (a *Activities) ExtractFile(ctx context.Context, in ExtractInput) (ingest.Extraction, error) {
	activity.GetLogger(ctx).Debug("workflow: extracting", "path", in.Path)
	return a.Pipeline.Extract(ctx, in.Path, in.UseCache, in.Force), ctx.Err()
}

// ProcessFile is Phase B for one file. The document is reloaded from its
// path when snippets are rendered.
func (a *Activities) ProcessFile(ctx context.Context, in ProcessInput) (model.FileResult, error) {
	s := a.Pipeline.Session(ctx, in.Company)
	return a.Pipeline.Process(ctx, s, in.Extraction), ctx.Err()
}
