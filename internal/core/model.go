package core

import (
	"time"
)

// Request holds the policy attributes of one SMTP transaction
// (client_address, client_name, sender, recipient, ...)
type Request map[string]string

// Get returns the value of a field or an empty string when it is absent
func (r Request) Get(field string) string {
	return r[field]
}

// Verdict is the result every check returns to the aggregator.
// A zero score means the check could not decide.
type Verdict struct {
	Score       int
	Explanation string
}

// Tier returns the cache tier implied by the sign of the score
func (v Verdict) Tier() Tier {
	switch {
	case v.Score > 0:
		return TierPositive
	case v.Score < 0:
		return TierNegative
	default:
		return TierUnknown
	}
}

// Tier selects which TTL a cached verdict is stored under
type Tier int

const (
	TierUnknown Tier = iota
	TierPositive
	TierNegative
)

func (t Tier) String() string {
	switch t {
	case TierPositive:
		return "positive"
	case TierNegative:
		return "negative"
	default:
		return "unknown"
	}
}

// TTLPolicy holds the per-module cache lifetime of each tier.
// A zero duration disables caching for that tier.
type TTLPolicy struct {
	Positive time.Duration
	Unknown  time.Duration
	Negative time.Duration
}

// For returns the TTL of the given tier
func (p TTLPolicy) For(t Tier) time.Duration {
	switch t {
	case TierPositive:
		return p.Positive
	case TierNegative:
		return p.Negative
	default:
		return p.Unknown
	}
}

// Caches reports whether any tier is kept in the fingerprint cache. The
// verdict of a module that caches nothing is not a function of its
// fingerprint.
func (p TTLPolicy) Caches() bool {
	return p.Positive > 0 || p.Unknown > 0 || p.Negative > 0
}

// CacheEntry is a verdict stored in the fingerprint cache
type CacheEntry struct {
	Key       string
	Verdict   Verdict
	Tier      Tier
	ExpiresAt time.Time
}

// CheckResult pairs a verdict with the check that produced it
type CheckResult struct {
	Check    string
	Verdict  Verdict
	Cached   bool
	Duration time.Duration
}

// RecordStatus describes the freshness of a persistent record on read
type RecordStatus int

const (
	RecordMiss RecordStatus = iota
	RecordFresh
	RecordSoftExpired
)

func (s RecordStatus) String() string {
	switch s {
	case RecordFresh:
		return "fresh"
	case RecordSoftExpired:
		return "soft-expired"
	default:
		return "miss"
	}
}

// PersistentRecord is a verification result kept across restarts
type PersistentRecord struct {
	Key          string
	Code         int
	Explanation  string
	SoftExpireAt time.Time
	HardExpireAt time.Time
}

// StatusAt classifies the record against the given instant
func (r *PersistentRecord) StatusAt(now time.Time) RecordStatus {
	if r == nil || !now.Before(r.HardExpireAt) {
		return RecordMiss
	}
	if !now.Before(r.SoftExpireAt) {
		return RecordSoftExpired
	}
	return RecordFresh
}
