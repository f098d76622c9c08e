package loader

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockOCR struct {
	mock.Mock
}

func (m *mockOCR) ExtractPages(ctx context.Context, pdf []byte) ([]string, error) {
	args := m.Called(ctx, pdf)
	pages, _ := args.Get(0).([]string)
	return pages, args.Error(1)
}
