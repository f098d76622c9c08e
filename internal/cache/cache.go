// Package cache stores extraction results under the content fingerprint of
// the source file.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/sells-group/finrecon/internal/model"
)

// Fingerprint returns the lowercase hex SHA-256 of data. Filenames and
// metadata never participate.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Cache is an extraction cache. Implementations never fail the caller:
// read errors are misses and write errors are logged and dropped.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*model.CachedExtraction, bool)
	Set(ctx context.Context, entry model.CachedExtraction)
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]model.CachedExtraction
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]model.CachedExtraction)}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (*model.CachedExtraction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (m *Memory) Set(_ context.Context, entry model.CachedExtraction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Fingerprint] = entry
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
