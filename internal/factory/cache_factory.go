package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/adapters/cache"
	"github.com/mikey/mail-policy/internal/adapters/store"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// PersistentStore is a store with a background cleanup task
type PersistentStore interface {
	core.PersistentStore
	Stop()
}

// CacheFactory creates the fingerprint cache and the persistent store
type CacheFactory struct {
	cfg    *config.Config
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewCacheFactory creates a new cache factory
func NewCacheFactory(cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) *CacheFactory {
	return &CacheFactory{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

// CreateFingerprintCache creates the in-memory verdict cache, or nil when
// caching is disabled
func (f *CacheFactory) CreateFingerprintCache() (*cache.MemoryCache, error) {
	cacheCfg, err := f.cfg.GetCache()
	if err != nil {
		return nil, err
	}
	if !cacheCfg.Enabled {
		f.logger.Info("Fingerprint cache disabled")
		return nil, nil
	}
	return cache.NewMemoryCache(f.clock, f.logger, cacheCfg.CleanupFrequency), nil
}

// CreatePersistentStore creates the persistent store based on the configuration
func (f *CacheFactory) CreatePersistentStore() (PersistentStore, error) {
	storeCfg, err := f.cfg.GetStore()
	if err != nil {
		return nil, err
	}

	switch storeCfg.Type {
	case "memory":
		return store.NewMemoryStore(f.clock, f.logger), nil
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(storeCfg.SQLitePath, f.clock, f.logger, storeCfg.CleanupFrequency)
	case "mysql":
		return store.NewMySQLStore(storeCfg.MySQLDSN, f.clock, f.logger, storeCfg.CleanupFrequency)
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewPostgresStore(ctx, storeCfg.PostgresURL, f.clock, f.logger, storeCfg.CleanupFrequency)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
