package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryCacheExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewMemoryCache(clock, zap.NewNop(), 0)
	defer c.Stop()

	c.Set("k", core.Verdict{Score: 2, Explanation: "ok"}, time.Minute)

	entry, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, entry.Verdict.Score)
	assert.Equal(t, core.TierPositive, entry.Tier)

	clock.Advance(59 * time.Second)
	_, ok = c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheIgnoresZeroTTL(t *testing.T) {
	c := NewMemoryCache(clockwork.NewFakeClock(), zap.NewNop(), 0)
	c.Set("k", core.Verdict{Score: 1}, 0)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheGetReturnsCopy(t *testing.T) {
	c := NewMemoryCache(clockwork.NewFakeClock(), zap.NewNop(), 0)
	c.Set("k", core.Verdict{Score: 1, Explanation: "a"}, time.Minute)

	entry, _ := c.Get("k")
	entry.Verdict.Explanation = "changed"

	again, _ := c.Get("k")
	assert.Equal(t, "a", again.Verdict.Explanation)
}

func TestMemoryCacheCleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewMemoryCache(clock, zap.NewNop(), 0)

	c.Set("short", core.Verdict{Score: -1}, time.Second)
	c.Set("long", core.Verdict{Score: 1}, time.Hour)
	clock.Advance(time.Minute)

	require.NoError(t, c.Cleanup(context.Background()))
	assert.Equal(t, 1, c.Len())

	c.Delete("long")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheBackgroundCleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewMemoryCache(clock, zap.NewNop(), time.Minute)
	defer c.Stop()

	c.Set("k", core.Verdict{Score: 1}, time.Second)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))

	clock.Advance(time.Minute)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)

	// Stop is idempotent
	c.Stop()
	c.Stop()
}
