// Package dnsbl scores the client address and sender domain of a
// transaction against DNS blacklists.
//
// Options:
//
//	dnsbl          list of blacklist ids (required, must be configured)
//	threshold      when set the check returns 1 above it and -1 otherwise,
//	               when unset it returns the summed score
//	params         request fields to look up, default [client_address, sender]
//	cachePositive  seconds, default 21600
//	cacheUnknown   seconds, default 1800
//	cacheNegative  seconds, default 43200
package dnsbl

import (
	"context"
	"fmt"
	"math"

	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// Type is the module type name used in configuration
const Type = "dnsbl"

// Scorer is the DNSBL check module
type Scorer struct {
	name      string
	lists     []string
	threshold *float64
	params    []string
	policy    core.TTLPolicy
	scorer    core.BlacklistScorer
	logger    *zap.Logger
}

var _ core.Checkable = (*Scorer)(nil)

// New configures a DNSBL check
func New(name string, cfg *config.Config, scorer core.BlacklistScorer, logger *zap.Logger) (*Scorer, error) {
	cfg.SetDefault("params", []string{core.FieldClientAddress, core.FieldSender})
	cfg.SetDefault("cachePositive", 6*60*60)
	cfg.SetDefault("cacheUnknown", 30*60)
	cfg.SetDefault("cacheNegative", 12*60*60)

	logger = logger.Named(name)

	lists := cfg.GetStringSlice("dnsbl")
	if len(lists) == 0 {
		return nil, core.NewConfigError(name, "parameter \"dnsbl\" has to be specified for this module")
	}
	for _, id := range lists {
		if !scorer.HasList(id) {
			return nil, core.NewConfigError(name, "there is no %s dnsbl list in configuration", id)
		}
	}

	params, dropped := core.ValidateFields(cfg.GetStringSlice("params"), core.KnownFields)
	for _, p := range dropped {
		logger.Warn("Don't know how to score request field, ignoring it", zap.String("field", p))
	}

	s := &Scorer{
		name:   name,
		lists:  lists,
		params: params,
		policy: core.TTLPolicy{
			Positive: cfg.GetSeconds("cachePositive"),
			Unknown:  cfg.GetSeconds("cacheUnknown"),
			Negative: cfg.GetSeconds("cacheNegative"),
		},
		scorer: scorer,
		logger: logger,
	}
	if cfg.IsSet("threshold") {
		t := cfg.GetFloat64("threshold")
		s.threshold = &t
	}

	return s, nil
}

// Name returns the module instance name
func (s *Scorer) Name() string {
	return s.name
}

// Params returns the request fields that are scored
func (s *Scorer) Params() []string {
	return s.params
}

// CachePolicy returns the TTL of each cache tier
func (s *Scorer) CachePolicy() core.TTLPolicy {
	return s.policy
}

// Fingerprint derives the cache key from the scored fields
func (s *Scorer) Fingerprint(req core.Request) string {
	return core.DeriveFingerprint(req, s.params)
}

// Check sums the blacklist scores of every configured field
func (s *Scorer) Check(ctx context.Context, req core.Request) core.Verdict {
	score := 0.0
	for _, param := range s.params {
		val := core.FieldValue(req, param)

		var hits int
		var res float64
		if param == core.FieldClientAddress {
			hits, res = s.scorer.Score(ctx, val, "", s.lists)
		} else {
			hits, res = s.scorer.Score(ctx, "", val, s.lists)
		}
		score += res

		s.logger.Debug("Scored request field",
			zap.String("field", param),
			zap.String("value", val),
			zap.Int("hits", hits),
			zap.Float64("score", res))
	}

	if s.threshold == nil {
		return core.Verdict{
			Score:       int(math.Round(score)),
			Explanation: fmt.Sprintf("%s blacklist score", s.name),
		}
	}
	if score > *s.threshold {
		return core.Verdict{
			Score:       1,
			Explanation: fmt.Sprintf("%s blacklist score exceeded threshold", s.name),
		}
	}
	return core.Verdict{
		Score:       -1,
		Explanation: fmt.Sprintf("%s blacklist score did not exceed threshold", s.name),
	}
}
