// Package spf evaluates the SPF policy of the sender domain (RFC 7208) for
// the connecting client.
//
// Scores: pass is 1, fail and softfail are -1, every other result
// (none, neutral, temperror, permerror) is 0.
package spf

import (
	"context"
	"fmt"
	"net"

	"blitiri.com.ar/go/spf"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// Type is the module type name used in configuration
const Type = "spf"

// fieldHelo is the policy attribute carrying the HELO/EHLO name
const fieldHelo = "helo_name"

// Checker is the SPF check module
type Checker struct {
	name     string
	policy   core.TTLPolicy
	resolver spf.DNSResolver
	logger   *zap.Logger
}

var _ core.Checkable = (*Checker)(nil)

// New configures an SPF check. A nil resolver uses the system resolver.
func New(name string, cfg *config.Config, resolver spf.DNSResolver, logger *zap.Logger) (*Checker, error) {
	cfg.SetDefault("cachePositive", 60*60)
	cfg.SetDefault("cacheUnknown", 15*60)
	cfg.SetDefault("cacheNegative", 60*60)

	policy := core.TTLPolicy{
		Positive: cfg.GetSeconds("cachePositive"),
		Unknown:  cfg.GetSeconds("cacheUnknown"),
		Negative: cfg.GetSeconds("cacheNegative"),
	}
	if policy.Positive < 0 || policy.Unknown < 0 || policy.Negative < 0 {
		return nil, core.NewConfigError(name, "cache expiry can't be negative")
	}

	return &Checker{
		name:     name,
		policy:   policy,
		resolver: resolver,
		logger:   logger.Named(name),
	}, nil
}

// Name returns the module instance name
func (c *Checker) Name() string {
	return c.name
}

// CachePolicy returns the TTL of each cache tier
func (c *Checker) CachePolicy() core.TTLPolicy {
	return c.policy
}

// Fingerprint derives the cache key from the client address, HELO name and
// sender domain
func (c *Checker) Fingerprint(req core.Request) string {
	return core.HashKey(req.Get(core.FieldClientAddress) + "|" + req.Get(fieldHelo) + "|" + core.FieldValue(req, core.FieldSender))
}

// Check evaluates the sender's SPF record for the client address
func (c *Checker) Check(ctx context.Context, req core.Request) core.Verdict {
	ip := net.ParseIP(req.Get(core.FieldClientAddress))
	if ip == nil {
		return core.Verdict{Score: 0, Explanation: fmt.Sprintf("%s no client address", c.name)}
	}

	opts := []spf.Option{spf.WithContext(ctx)}
	if c.resolver != nil {
		opts = append(opts, spf.WithResolver(c.resolver))
	}

	result, err := spf.CheckHostWithSender(ip, req.Get(fieldHelo), req.Get(core.FieldSender), opts...)
	if err != nil {
		c.logger.Debug("SPF evaluation error",
			zap.String("sender", req.Get(core.FieldSender)),
			zap.String("result", string(result)),
			zap.Error(err))
	}

	expl := fmt.Sprintf("%s SPF %s", c.name, result)
	switch result {
	case spf.Pass:
		return core.Verdict{Score: 1, Explanation: expl}
	case spf.Fail, spf.SoftFail:
		return core.Verdict{Score: -1, Explanation: expl}
	default:
		return core.Verdict{Score: 0, Explanation: expl}
	}
}
