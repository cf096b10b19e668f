package core

import (
	"context"
	"time"
)

// Checkable is implemented by every check module. Modules are configured by
// their constructors; Check never fails, it degrades to an undecided verdict.
type Checkable interface {
	// Name is the configured instance name of the module
	Name() string

	// Fingerprint derives the cache key for a request
	Fingerprint(req Request) string

	// Check evaluates the request
	Check(ctx context.Context, req Request) Verdict

	// CachePolicy returns the TTL of each cache tier
	CachePolicy() TTLPolicy
}

// FingerprintCache stores verdicts by fingerprint
type FingerprintCache interface {
	// Get returns a live entry for the key
	Get(key string) (*CacheEntry, bool)

	// Set stores a verdict for ttl; a non-positive ttl stores nothing
	Set(key string, verdict Verdict, ttl time.Duration)
}

// MailhostResolver resolves the hosts accepting mail for a domain
type MailhostResolver interface {
	// ResolveMailhosts returns MX hosts ordered by preference, falling back
	// to the domain itself when it only has address records
	ResolveMailhosts(ctx context.Context, domain string, local bool) ([]string, error)
}

// BlacklistScorer looks addresses and names up in DNS blacklists
type BlacklistScorer interface {
	// HasList reports whether a blacklist id is configured
	HasList(id string) bool

	// Score returns the number of listings and their summed score. Either
	// address or name is set. Failed queries contribute nothing.
	Score(ctx context.Context, address, name string, ids []string) (hits int, score float64)
}

// Reply is an SMTP reply line
type Reply struct {
	Code int
	Text string
}

// SMTPDialer opens probe sessions to mail exchangers
type SMTPDialer interface {
	Dial(ctx context.Context, host string, timeout time.Duration) (SMTPSession, error)
}

// SMTPSession is an open SMTP client connection. Errors are transport
// failures; protocol rejections are reported through Reply.
type SMTPSession interface {
	Helo(ctx context.Context) (Reply, error)
	Mail(ctx context.Context, from string) (Reply, error)
	Rcpt(ctx context.Context, to string) (Reply, error)
	Rset(ctx context.Context) (Reply, error)
	Quit() error
	Close() error
}

// PersistentStore keeps verification results with soft and hard expiry
type PersistentStore interface {
	// EnsureTable prepares storage for a table
	EnsureTable(ctx context.Context, table string) error

	// Get returns the record and its status; hard-expired records are a miss
	Get(ctx context.Context, table, key string) (*PersistentRecord, RecordStatus, error)

	// Put replaces the record for its key
	Put(ctx context.Context, table string, rec *PersistentRecord, softExpire, hardExpire time.Duration) error

	// Cleanup removes hard-expired records
	Cleanup(ctx context.Context) error
}
