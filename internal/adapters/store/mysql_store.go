package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var mysqlDialect = dialect{
	name: "mysql",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			cache_key VARCHAR(255) PRIMARY KEY,
			code TINYINT NOT NULL,
			explanation TEXT NOT NULL,
			soft_expire_at BIGINT NOT NULL,
			hard_expire_at BIGINT NOT NULL,
			INDEX idx_hard_expire_at (hard_expire_at)
		)
	`,
	upsert: `
		INSERT INTO %s (cache_key, code, explanation, soft_expire_at, hard_expire_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			code = VALUES(code),
			explanation = VALUES(explanation),
			soft_expire_at = VALUES(soft_expire_at),
			hard_expire_at = VALUES(hard_expire_at)
	`,
}

// MySQLStore is a MySQL implementation of the PersistentStore interface
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore connects to a MySQL database
func NewMySQLStore(dsn string, clock clockwork.Clock, logger *zap.Logger, cleanupFreq time.Duration) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	return &MySQLStore{newSQLStore(db, mysqlDialect, clock, logger, cleanupFreq)}, nil
}
