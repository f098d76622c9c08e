package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/finrecon/internal/model"
)

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Run(ctx context.Context, req model.IngestRequest) (*model.BatchResult, error) {
	args := m.Called(ctx, req)
	b, _ := args.Get(0).(*model.BatchResult)
	return b, args.Error(1)
}

type mockReader struct {
	mock.Mock
}

func (m *mockReader) ListPeriods(ctx context.Context, company string) ([]string, error) {
	args := m.Called(ctx, company)
	p, _ := args.Get(0).([]string)
	return p, args.Error(1)
}

func (m *mockReader) GetFacts(ctx context.Context, company, period string) ([]model.LineItemFact, error) {
	args := m.Called(ctx, company, period)
	f, _ := args.Get(0).([]model.LineItemFact)
	return f, args.Error(1)
}

func (m *mockReader) GetMetrics(ctx context.Context, company, period string) ([]model.ComputedMetric, error) {
	args := m.Called(ctx, company, period)
	mm, _ := args.Get(0).([]model.ComputedMetric)
	return mm, args.Error(1)
}
