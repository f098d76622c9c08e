package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/model"
)

// Backend is the part of store.Store a StoreCache needs.
type Backend interface {
	GetCachedExtraction(ctx context.Context, fingerprint string) (*model.CachedExtraction, error)
	SetCachedExtraction(ctx context.Context, entry model.CachedExtraction) error
}

// StoreCache persists extractions in the application database.
type StoreCache struct {
	backend Backend
}

// NewStoreCache returns a Cache over backend.
func NewStoreCache(backend Backend) *StoreCache {
	return &StoreCache{backend: backend}
}

func (s *StoreCache) Get(ctx context.Context, fingerprint string) (*model.CachedExtraction, bool) {
	entry, err := s.backend.GetCachedExtraction(ctx, fingerprint)
	if err != nil {
		zap.L().Warn("cache: store read failed, treating as miss",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}
	if entry == nil || entry.Result == nil {
		return nil, false
	}
	return entry, true
}

func (s *StoreCache) Set(ctx context.Context, entry model.CachedExtraction) {
	if err := s.backend.SetCachedExtraction(ctx, entry); err != nil {
		zap.L().Warn("cache: store write failed",
			zap.String("fingerprint", entry.Fingerprint), zap.Error(err))
	}
}
