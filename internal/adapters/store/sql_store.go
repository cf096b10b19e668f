package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// dialect holds the statements that differ between SQL backends
type dialect struct {
	name        string
	createTable string // %s is the table name
	createIndex string // optional, %s is the table name
	upsert      string // %s is the table name
}

// sqlStore is the database/sql implementation shared by SQLite and MySQL
type sqlStore struct {
	db          *sql.DB
	dialect     dialect
	clock       clockwork.Clock
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once

	mu     sync.Mutex
	tables map[string]struct{}
}

func newSQLStore(db *sql.DB, d dialect, clock clockwork.Clock, logger *zap.Logger, cleanupFreq time.Duration) *sqlStore {
	s := &sqlStore{
		db:          db,
		dialect:     d,
		clock:       clock,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
		tables:      make(map[string]struct{}),
	}

	if cleanupFreq > 0 {
		go s.startCleanupTask()
	}

	return s
}

// EnsureTable creates the table if it doesn't exist
func (s *sqlStore) EnsureTable(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table]; ok {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, table)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if s.dialect.createIndex != "" {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createIndex, table, table)); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	s.tables[table] = struct{}{}
	return nil
}

// Get retrieves a record that has not hard-expired
func (s *sqlStore) Get(ctx context.Context, table, key string) (*core.PersistentRecord, core.RecordStatus, error) {
	if err := ValidateTable(table); err != nil {
		return nil, core.RecordMiss, err
	}

	var (
		rec        core.PersistentRecord
		soft, hard int64
	)
	rec.Key = key

	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT code, explanation, soft_expire_at, hard_expire_at
		FROM %s
		WHERE cache_key = ? AND hard_expire_at > ?
	`, table), key, s.clock.Now().Unix()).Scan(&rec.Code, &rec.Explanation, &soft, &hard)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.RecordMiss, nil
		}
		return nil, core.RecordMiss, fmt.Errorf("failed to query %s: %w", table, err)
	}

	rec.SoftExpireAt = time.Unix(soft, 0)
	rec.HardExpireAt = time.Unix(hard, 0)

	status := statusOf(s.clock, &rec)
	if status == core.RecordMiss {
		return nil, core.RecordMiss, nil
	}
	return &rec, status, nil
}

// Put stores a record, replacing any previous one for the key
func (s *sqlStore) Put(ctx context.Context, table string, rec *core.PersistentRecord, softExpire, hardExpire time.Duration) error {
	if err := ValidateTable(table); err != nil {
		return err
	}

	r := newRecord(rec, s.clock.Now(), softExpire, hardExpire)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.upsert, table),
		r.Key, r.Code, r.Explanation, r.SoftExpireAt.Unix(), r.HardExpireAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert record into %s: %w", table, err)
	}

	return nil
}

// Cleanup removes hard-expired records from every known table
func (s *sqlStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	tables := make([]string, 0, len(s.tables))
	for t := range s.tables {
		tables = append(tables, t)
	}
	s.mu.Unlock()

	now := s.clock.Now().Unix()
	for _, table := range tables {
		result, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s
			WHERE hard_expire_at <= ?
		`, table), now)
		if err != nil {
			return fmt.Errorf("failed to clean up expired records in %s: %w", table, err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			s.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
		} else {
			s.logger.Debug("Cleaned up expired records",
				zap.String("table", table),
				zap.Int64("expired_count", rowsAffected))
		}
	}

	return nil
}

// startCleanupTask starts a background task to clean up expired records
func (s *sqlStore) startCleanupTask() {
	ticker := s.clock.NewTicker(s.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("Failed to clean up store", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task and closes the database connection
func (s *sqlStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database",
				zap.String("driver", s.dialect.name),
				zap.Error(err))
		}
	})
}
