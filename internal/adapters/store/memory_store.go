package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is a process-local PersistentStore, useful for tests and for
// deployments that accept losing the cache on restart
type MemoryStore struct {
	tables map[string]map[string]*core.PersistentRecord
	mu     sync.RWMutex
	clock  clockwork.Clock
	logger *zap.Logger
}

var _ core.PersistentStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(clock clockwork.Clock, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]*core.PersistentRecord),
		clock:  clock,
		logger: logger,
	}
}

// EnsureTable creates the table if needed
func (s *MemoryStore) EnsureTable(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table]; !ok {
		s.tables[table] = make(map[string]*core.PersistentRecord)
	}
	return nil
}

// Get retrieves a record
func (s *MemoryStore) Get(ctx context.Context, table, key string) (*core.PersistentRecord, core.RecordStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tables[table][key]
	if !ok {
		return nil, core.RecordMiss, nil
	}

	status := statusOf(s.clock, rec)
	if status == core.RecordMiss {
		return nil, core.RecordMiss, nil
	}

	cp := *rec
	return &cp, status, nil
}

// Put stores a record
func (s *MemoryStore) Put(ctx context.Context, table string, rec *core.PersistentRecord, softExpire, hardExpire time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		t = make(map[string]*core.PersistentRecord)
		s.tables[table] = t
	}
	t[rec.Key] = newRecord(rec, s.clock.Now(), softExpire, hardExpire)
	return nil
}

// Cleanup removes hard-expired records
func (s *MemoryStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	expiredCount := 0
	for _, t := range s.tables {
		for key, rec := range t {
			if rec.StatusAt(now) == core.RecordMiss {
				delete(t, key)
				expiredCount++
			}
		}
	}

	s.logger.Debug("Cleaned up expired records", zap.Int("expired_count", expiredCount))
	return nil
}

// Stop is a no-op for the in-memory store
func (s *MemoryStore) Stop() {}
