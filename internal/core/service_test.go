package core_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/adapters/cache"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCheck struct {
	name    string
	verdict core.Verdict
	policy  core.TTLPolicy
	release chan struct{}
	calls   atomic.Int32
}

func (c *fakeCheck) Name() string { return c.name }

func (c *fakeCheck) Fingerprint(req core.Request) string {
	return core.DeriveFingerprint(req, []string{core.FieldSender})
}

func (c *fakeCheck) CachePolicy() core.TTLPolicy { return c.policy }

func (c *fakeCheck) Check(ctx context.Context, req core.Request) core.Verdict {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return core.Verdict{Explanation: "timeout"}
		}
	}
	return c.verdict
}

type fakeRecorder struct {
	mu     sync.Mutex
	cached int
	fresh  int
}

func (r *fakeRecorder) ObserveCheck(check string, tier core.Tier, cached bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached {
		r.cached++
	} else {
		r.fresh++
	}
}

func newCache(clock clockwork.Clock) *cache.MemoryCache {
	return cache.NewMemoryCache(clock, zap.NewNop(), 0)
}

func TestCheckServiceCachesByTier(t *testing.T) {
	clock := clockwork.NewFakeClock()
	check := &fakeCheck{
		name:    "bl",
		verdict: core.Verdict{Score: -3, Explanation: "listed"},
		policy:  core.TTLPolicy{Positive: time.Hour, Unknown: time.Minute, Negative: 10 * time.Minute},
	}
	rec := &fakeRecorder{}
	svc := core.NewCheckService([]core.Checkable{check}, newCache(clock), zap.NewNop(), rec, 0)

	req := core.Request{core.FieldSender: "alice@example.com"}

	res, err := svc.Check(context.Background(), "bl", req)
	require.NoError(t, err)
	assert.Equal(t, -3, res.Verdict.Score)
	assert.False(t, res.Cached)

	// same domain, different user: same fingerprint
	res, err = svc.Check(context.Background(), "bl", core.Request{core.FieldSender: "bob@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "listed", res.Verdict.Explanation)
	assert.EqualValues(t, 1, check.calls.Load())

	// negative tier expires after 10 minutes
	clock.Advance(10 * time.Minute)
	res, err = svc.Check(context.Background(), "bl", req)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 2, check.calls.Load())

	assert.Equal(t, 1, rec.cached)
	assert.Equal(t, 2, rec.fresh)
}

func TestCheckServiceZeroTTLNeverCaches(t *testing.T) {
	check := &fakeCheck{name: "dump", verdict: core.Verdict{Score: 1}}
	svc := core.NewCheckService([]core.Checkable{check}, newCache(clockwork.NewFakeClock()), zap.NewNop(), nil, 0)

	req := core.Request{core.FieldSender: "alice@example.com"}
	for i := 0; i < 3; i++ {
		res, err := svc.Check(context.Background(), "dump", req)
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.EqualValues(t, 3, check.calls.Load())
}

func TestCheckServiceUnknownCheck(t *testing.T) {
	svc := core.NewCheckService(nil, nil, zap.NewNop(), nil, 0)
	_, err := svc.Check(context.Background(), "missing", core.Request{})
	assert.Error(t, err)
}

func TestCheckServiceSharesConcurrentEvaluation(t *testing.T) {
	check := &fakeCheck{
		name:    "verify",
		verdict: core.Verdict{Score: 2},
		policy:  core.TTLPolicy{Positive: time.Minute},
		release: make(chan struct{}),
	}
	// no cache: only the in-flight de-duplication can merge the calls
	svc := core.NewCheckService([]core.Checkable{check}, nil, zap.NewNop(), nil, 0)
	req := core.Request{core.FieldSender: "alice@example.com"}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]core.CheckResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.Check(context.Background(), "verify", req)
		}(i)
	}

	require.Eventually(t, func() bool { return check.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(check.release)
	wg.Wait()

	assert.EqualValues(t, 1, check.calls.Load())
	for _, r := range results {
		assert.Equal(t, 2, r.Verdict.Score)
	}
}

func TestCheckServiceRunsUncachedChecksPerRequest(t *testing.T) {
	// caches nothing, so equal fingerprints say nothing about equal verdicts
	check := &fakeCheck{
		name:    "dump",
		verdict: core.Verdict{Score: 1},
		release: make(chan struct{}),
	}
	svc := core.NewCheckService([]core.Checkable{check}, nil, zap.NewNop(), nil, 0)

	const callers = 5
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Check(context.Background(), "dump", core.Request{core.FieldSender: "alice@example.com"})
			assert.NoError(t, err)
			assert.Equal(t, 1, res.Verdict.Score)
		}()
	}

	require.Eventually(t, func() bool { return check.calls.Load() == callers }, time.Second, time.Millisecond)
	close(check.release)
	wg.Wait()
}

func TestTTLPolicyCaches(t *testing.T) {
	assert.False(t, core.TTLPolicy{}.Caches())
	assert.True(t, core.TTLPolicy{Unknown: time.Second}.Caches())
}

func TestCheckServiceTimeout(t *testing.T) {
	check := &fakeCheck{
		name:    "slow",
		verdict: core.Verdict{Score: 5},
		release: make(chan struct{}),
	}
	svc := core.NewCheckService([]core.Checkable{check}, nil, zap.NewNop(), nil, 20*time.Millisecond)

	res, err := svc.Check(context.Background(), "slow", core.Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Verdict.Score)
	assert.Equal(t, "timeout", res.Verdict.Explanation)
}

func TestCheckAllKeepsOrder(t *testing.T) {
	checks := []core.Checkable{
		&fakeCheck{name: "a", verdict: core.Verdict{Score: 1}},
		&fakeCheck{name: "b", verdict: core.Verdict{Score: -1}},
		&fakeCheck{name: "c", verdict: core.Verdict{Score: 0}},
	}
	svc := core.NewCheckService(checks, nil, zap.NewNop(), nil, 0)

	results := svc.CheckAll(context.Background(), core.Request{})
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Check)
	assert.Equal(t, "b", results[1].Check)
	assert.Equal(t, "c", results[2].Check)
	assert.Equal(t, -1, results[1].Verdict.Score)
}
