package ingest

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/snippet"
)

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Extract(ctx context.Context, doc *loader.Document) (*model.ExtractionResult, error) {
	args := m.Called(ctx, doc)
	r, _ := args.Get(0).(*model.ExtractionResult)
	return r, args.Error(1)
}

type mockSnippets struct {
	mock.Mock
}

func (m *mockSnippets) Attach(ctx context.Context, doc *loader.Document, company string, facts []model.LineItemFact) ([]model.LineItemFact, snippet.Stats) {
	args := m.Called(ctx, doc, company, facts)
	stats, _ := args.Get(1).(snippet.Stats)
	switch v := args.Get(0).(type) {
	case func(context.Context, *loader.Document, string, []model.LineItemFact) []model.LineItemFact:
		return v(ctx, doc, company, facts), stats
	case []model.LineItemFact:
		return v, stats
	}
	return facts, stats
}

var extractErr = errors.New("anthropic: model overloaded")
