package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Recorder receives per-check measurements
type Recorder interface {
	ObserveCheck(check string, tier Tier, cached bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCheck(string, Tier, bool, time.Duration) {}

// CheckService runs check modules behind the shared fingerprint cache
type CheckService struct {
	checks       []Checkable
	byName       map[string]Checkable
	cache        FingerprintCache
	logger       *zap.Logger
	recorder     Recorder
	checkTimeout time.Duration
	inflight     singleflight.Group
}

// NewCheckService creates a new check service. A nil cache disables caching
// and a zero checkTimeout leaves the caller's deadline untouched.
func NewCheckService(
	checks []Checkable,
	cache FingerprintCache,
	logger *zap.Logger,
	recorder Recorder,
	checkTimeout time.Duration,
) *CheckService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	byName := make(map[string]Checkable, len(checks))
	for _, c := range checks {
		byName[c.Name()] = c
	}
	return &CheckService{
		checks:       checks,
		byName:       byName,
		cache:        cache,
		logger:       logger,
		recorder:     recorder,
		checkTimeout: checkTimeout,
	}
}

// Checks returns the configured modules in configuration order
func (s *CheckService) Checks() []Checkable {
	return s.checks
}

// Check runs a single named module against the request
func (s *CheckService) Check(ctx context.Context, name string, req Request) (CheckResult, error) {
	c, ok := s.byName[name]
	if !ok {
		return CheckResult{}, fmt.Errorf("unknown check: %s", name)
	}
	return s.run(ctx, c, req), nil
}

// CheckAll runs every module concurrently; results keep configuration order
func (s *CheckService) CheckAll(ctx context.Context, req Request) []CheckResult {
	results := make([]CheckResult, len(s.checks))
	var g errgroup.Group
	for i, c := range s.checks {
		g.Go(func() error {
			results[i] = s.run(ctx, c, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *CheckService) run(ctx context.Context, c Checkable, req Request) CheckResult {
	start := time.Now()
	key := c.Fingerprint(req)

	if s.cache != nil {
		if entry, ok := s.cache.Get(cacheKey(c, key)); ok {
			s.logger.Debug("Cache hit for check",
				zap.String("check", c.Name()),
				zap.String("fingerprint", key),
				zap.String("tier", entry.Tier.String()))
			elapsed := time.Since(start)
			s.recorder.ObserveCheck(c.Name(), entry.Tier, true, elapsed)
			return CheckResult{Check: c.Name(), Verdict: entry.Verdict, Cached: true, Duration: elapsed}
		}
	}

	var (
		verdict Verdict
		shared  bool
	)
	if c.CachePolicy().Caches() {
		// concurrent callers with the same fingerprint share one evaluation
		var v any
		v, _, shared = s.inflight.Do(cacheKey(c, key), func() (any, error) {
			return s.evaluate(ctx, c, key, req), nil
		})
		verdict = v.(Verdict)
	} else {
		// every request counts, e.g. for the dump sink
		verdict = s.evaluate(ctx, c, key, req)
	}

	elapsed := time.Since(start)
	s.recorder.ObserveCheck(c.Name(), verdict.Tier(), false, elapsed)
	s.logger.Debug("Check finished",
		zap.String("check", c.Name()),
		zap.Int("score", verdict.Score),
		zap.String("explanation", verdict.Explanation),
		zap.Bool("shared", shared),
		zap.Duration("elapsed", elapsed))

	return CheckResult{Check: c.Name(), Verdict: verdict, Duration: elapsed}
}

func (s *CheckService) evaluate(ctx context.Context, c Checkable, key string, req Request) Verdict {
	if s.checkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.checkTimeout)
		defer cancel()
	}

	verdict := c.Check(ctx, req)

	if s.cache != nil {
		ttl := c.CachePolicy().For(verdict.Tier())
		s.cache.Set(cacheKey(c, key), verdict, ttl)
	}
	return verdict
}

// cacheKey scopes a fingerprint to its module so modules never share entries
func cacheKey(c Checkable, fingerprint string) string {
	return c.Name() + "|" + fingerprint
}
