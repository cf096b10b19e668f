// Package store implements the persistent verification cache: a durable
// key to record mapping with soft and hard expiry.
package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/core"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidateTable rejects table names that cannot be used as SQL identifiers
func ValidateTable(table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// newRecord stamps expiry times on a record relative to now
func newRecord(rec *core.PersistentRecord, now time.Time, soft, hard time.Duration) *core.PersistentRecord {
	if soft > hard {
		soft = hard
	}
	return &core.PersistentRecord{
		Key:          rec.Key,
		Code:         rec.Code,
		Explanation:  rec.Explanation,
		SoftExpireAt: now.Add(soft),
		HardExpireAt: now.Add(hard),
	}
}

// Client is one module's view of a store table, carrying the default
// expiry pair used when a write does not choose its own
type Client struct {
	store       core.PersistentStore
	table       string
	defaultSoft time.Duration
	defaultHard time.Duration
}

// NewClient prepares the table and returns a client for it
func NewClient(ctx context.Context, s core.PersistentStore, table string, defaultSoft, defaultHard time.Duration) (*Client, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if err := s.EnsureTable(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to prepare table %s: %w", table, err)
	}
	return &Client{
		store:       s,
		table:       table,
		defaultSoft: defaultSoft,
		defaultHard: defaultHard,
	}, nil
}

// Table returns the table name
func (c *Client) Table() string {
	return c.table
}

// Get reads a record and its status
func (c *Client) Get(ctx context.Context, key string) (*core.PersistentRecord, core.RecordStatus, error) {
	return c.store.Get(ctx, c.table, key)
}

// Put writes a record with explicit expiry
func (c *Client) Put(ctx context.Context, key string, code int, explanation string, soft, hard time.Duration) error {
	rec := &core.PersistentRecord{Key: key, Code: code, Explanation: explanation}
	return c.store.Put(ctx, c.table, rec, soft, hard)
}

// PutDefault writes a record with the client's default expiry
func (c *Client) PutDefault(ctx context.Context, key string, code int, explanation string) error {
	return c.Put(ctx, key, code, explanation, c.defaultSoft, c.defaultHard)
}

// SoftExpire returns the conventional soft expiry (three quarters) of a hard expiry
func SoftExpire(hard time.Duration) time.Duration {
	return hard * 3 / 4
}

// statusOf classifies a record read from a backend
func statusOf(clock clockwork.Clock, rec *core.PersistentRecord) core.RecordStatus {
	return rec.StatusAt(clock.Now())
}
