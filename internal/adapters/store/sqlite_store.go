package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var sqliteDialect = dialect{
	name: "sqlite3",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT PRIMARY KEY,
			code INTEGER NOT NULL,
			explanation TEXT NOT NULL,
			soft_expire_at INTEGER NOT NULL,
			hard_expire_at INTEGER NOT NULL
		)
	`,
	createIndex: `
		CREATE INDEX IF NOT EXISTS idx_%s_hard_expire_at ON %s(hard_expire_at)
	`,
	upsert: `
		INSERT OR REPLACE INTO %s (cache_key, code, explanation, soft_expire_at, hard_expire_at)
		VALUES (?, ?, ?, ?, ?)
	`,
}

// SQLiteStore is a SQLite implementation of the PersistentStore interface
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (or creates) a SQLite database
func NewSQLiteStore(dbPath string, clock clockwork.Clock, logger *zap.Logger, cleanupFreq time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// concurrent writers on one SQLite file fail with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	return &SQLiteStore{newSQLStore(db, sqliteDialect, clock, logger, cleanupFreq)}, nil
}
