package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// PostgresStore is a PostgreSQL implementation of the PersistentStore interface
type PostgresStore struct {
	pool        *pgxpool.Pool
	clock       clockwork.Clock
	logger      *zap.Logger
	cleanupFreq time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once

	mu     sync.Mutex
	tables map[string]struct{}
}

var _ core.PersistentStore = (*PostgresStore)(nil)

// NewPostgresStore connects a pool to the database at url
func NewPostgresStore(ctx context.Context, url string, clock clockwork.Clock, logger *zap.Logger, cleanupFreq time.Duration) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	s := &PostgresStore{
		pool:        pool,
		clock:       clock,
		logger:      logger,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
		tables:      make(map[string]struct{}),
	}
	if cleanupFreq > 0 {
		go s.startCleanupTask()
	}
	return s, nil
}

// EnsureTable creates the table if it doesn't exist
func (s *PostgresStore) EnsureTable(ctx context.Context, table string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table]; ok {
		return nil
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT PRIMARY KEY,
			code SMALLINT NOT NULL,
			explanation TEXT NOT NULL,
			soft_expire_at BIGINT NOT NULL,
			hard_expire_at BIGINT NOT NULL
		)
	`, table)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_hard_expire_at ON %s (hard_expire_at)`, table, table)); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	s.tables[table] = struct{}{}
	return nil
}

// Get retrieves a record that has not hard-expired
func (s *PostgresStore) Get(ctx context.Context, table, key string) (*core.PersistentRecord, core.RecordStatus, error) {
	if err := ValidateTable(table); err != nil {
		return nil, core.RecordMiss, err
	}

	var (
		rec        core.PersistentRecord
		soft, hard int64
	)
	rec.Key = key

	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT code, explanation, soft_expire_at, hard_expire_at
		FROM %s
		WHERE cache_key = $1 AND hard_expire_at > $2
	`, table), key, s.clock.Now().Unix()).Scan(&rec.Code, &rec.Explanation, &soft, &hard)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) Put(ctx context.Context, table string, rec *core.PersistentRecord, softExpire, hardExpire time.Duration) error {
	if err := ValidateTable(table); err != nil {
		return err
	}

	r := newRecord(rec, s.clock.Now(), softExpire, hardExpire)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (cache_key, code, explanation, soft_expire_at, hard_expire_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			code = EXCLUDED.code,
			explanation = EXCLUDED.explanation,
			soft_expire_at = EXCLUDED.soft_expire_at,
			hard_expire_at = EXCLUDED.hard_expire_at
	`, table), r.Key, r.Code, r.Explanation, r.SoftExpireAt.Unix(), r.HardExpireAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert record into %s: %w", table, err)
	}
	return nil
}

// Cleanup removes hard-expired records from every known table
func (s *PostgresStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	tables := make([]string, 0, len(s.tables))
	for t := range s.tables {
		tables = append(tables, t)
	}
	s.mu.Unlock()

	now := s.clock.Now().Unix()
	for _, table := range tables {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE hard_expire_at <= $1`, table), now)
		if err != nil {
			return fmt.Errorf("failed to clean up expired records in %s: %w", table, err)
		}
		s.logger.Debug("Cleaned up expired records",
			zap.String("table", table),
			zap.Int64("expired_count", tag.RowsAffected()))
	}
	return nil
}

func (s *PostgresStore) startCleanupTask() {
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

// Stop stops the background cleanup task and closes the pool
func (s *PostgresStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.pool.Close()
	})
}
