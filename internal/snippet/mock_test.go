package snippet

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
)

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(ctx context.Context, doc *loader.Document, loc model.SourceLocation) ([]byte, error) {
	args := m.Called(ctx, doc, loc)
	img, _ := args.Get(0).([]byte)
	return img, args.Error(1)
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Put(ctx context.Context, key string, png []byte) (string, error) {
	args := m.Called(ctx, key, png)
	return args.String(0), args.Error(1)
}
