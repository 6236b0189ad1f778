package realm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Process-wide cache used by the package-level functions.
var (
	defaultCache *Cache
	defaultOnce  sync.Once
	defaultMu    sync.RWMutex
)

// InitDefaultCache creates the process-wide cache with logger. Only the first
// call, or the first use of DefaultCache, has any effect.
func InitDefaultCache(logger *zap.SugaredLogger) *Cache {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		defaultCache = NewCache(logger)
	})

	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultCache
}

// DefaultCache returns the process-wide cache.
func DefaultCache() *Cache {
	return InitDefaultCache(nil)
}

// ResetDefaultCache closes and forgets every handle of the process-wide cache.
// It is meant for test isolation.
func ResetDefaultCache() {
	DefaultCache().Reset()
}

// Open opens cfg through the process-wide cache.
func Open(ctx context.Context, cfg Config) (*Realm, error) {
	return DefaultCache().Open(ctx, cfg)
}

// MustOpen opens cfg through the process-wide cache and panics on failure.
func MustOpen(ctx context.Context, cfg Config) *Realm {
	return DefaultCache().MustOpen(ctx, cfg)
}

// OpenDefault opens the default realm through the process-wide cache.
func OpenDefault(ctx context.Context) (*Realm, error) {
	return DefaultCache().OpenDefault(ctx)
}

// Migrate runs the schema update for cfg through the process-wide cache.
func Migrate(ctx context.Context, cfg Config) error {
	return DefaultCache().Migrate(ctx, cfg)
}

// SchemaVersionAtPath returns the schema version stored at path.
func SchemaVersionAtPath(path string, key []byte) (uint64, error) {
	return DefaultCache().SchemaVersionAtPath(path, key)
}
