package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"github.com/sells-group/finrecon/internal/model"
)

func TestWorkflowIDIsPerCompany(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ingest-acme", WorkflowID("acme"))
	assert.Equal(t, WorkflowID("acme"), WorkflowID("acme"))
	assert.NotEqual(t, WorkflowID("acme"), WorkflowID("globex"))
}

func TestRun_CompanyBatchAlreadyOpen(t *testing.T) {
	t.Parallel()

	req := model.IngestRequest{CompanySlug: "acme", FilePaths: []string{"a.pdf"}}
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "ingest-acme" && o.TaskQueue == "q" && o.WorkflowExecutionErrorWhenAlreadyStarted
		}),
		IngestWorkflowName, req,
	).Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "", "run-1"))

	batch, err := Run(context.Background(), c, "q", req)
	require.ErrorIs(t, err, ErrBatchInProgress)
	assert.Nil(t, batch)
	c.AssertExpectations(t)
}
