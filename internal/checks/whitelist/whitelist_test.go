package whitelist

import (
	"context"
	"testing"

	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChecker(t *testing.T, options map[string]any) *Checker {
	t.Helper()
	c, err := New("wl", config.FromMap(options), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestIsWhitelisted(t *testing.T) {
	c := newChecker(t, map[string]any{"domains": []string{"Example.COM.", " partner.example "}})

	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"EXAMPLE.com", true},
		{"mail.example.com", true},
		{"a.b.partner.example", true},
		{"notexample.com", false},
		{"example.org", false},
		{"com", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.IsWhitelisted(tt.domain), tt.domain)
	}
}

func TestCheck(t *testing.T) {
	c := newChecker(t, map[string]any{"domains": []string{"example.com"}})
	ctx := context.Background()

	v := c.Check(ctx, core.Request{core.FieldSender: "alice@mail.example.com"})
	assert.Equal(t, 1, v.Score)
	assert.Equal(t, "wl mail.example.com is whitelisted", v.Explanation)

	v = c.Check(ctx, core.Request{core.FieldSender: "bob@example.net"})
	assert.Equal(t, -1, v.Score)

	v = c.Check(ctx, core.Request{core.FieldSender: ""})
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, "wl no domain in sender", v.Explanation)
}

func TestCheckClientName(t *testing.T) {
	c := newChecker(t, map[string]any{"param": "client_name", "domains": []string{"example.com"}, "cachePositive": 300})

	v := c.Check(context.Background(), core.Request{core.FieldClientName: "mx.example.com"})
	assert.Equal(t, 1, v.Score)
	assert.Equal(t, 300, int(c.CachePolicy().Positive.Seconds()))
	assert.Zero(t, c.CachePolicy().Negative)

	a := c.Fingerprint(core.Request{core.FieldClientName: "mx.example.com", core.FieldSender: "a@x"})
	b := c.Fingerprint(core.Request{core.FieldClientName: "mx.example.com", core.FieldSender: "b@y"})
	assert.Equal(t, a, b)
}

func TestNewConfigErrors(t *testing.T) {
	_, err := New("wl", config.FromMap(nil), zap.NewNop())
	assert.True(t, core.IsConfigError(err))

	_, err = New("wl", config.FromMap(map[string]any{"domains": []string{"  "}}), zap.NewNop())
	assert.True(t, core.IsConfigError(err))

	_, err = New("wl", config.FromMap(map[string]any{"param": "helo_name", "domains": []string{"example.com"}}), zap.NewNop())
	assert.True(t, core.IsConfigError(err))
}
