package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
server:
  listen_address: 0.0.0.0:9998
  read_timeout: 30s
policy:
  domain: policy.example
cache:
  enabled: false
store:
  type: sqlite
  sqlite_path: /tmp/ppolicy.db
dns:
  nameservers: [192.0.2.53]
  timeout: 2s
dnsbl:
  lists:
    zen:
      zone: zen.example
      default_score: 1
      scores:
        - answer: 127.0.0.2
          score: 3
    dbl:
      zone: dbl.example
      type: name
      default_score: 2
checks:
  - name: verify_sender
    type: verification
    options:
      param: sender
      vtype: domain
      cacheDB: true
  - name: blacklists
    type: dnsbl
    options:
      dnsbl: [zen, dbl]
      threshold: 4
`

func loadTestConfig(t *testing.T) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())

	server, err := cfg.GetServer()
	require.NoError(t, err)
	assert.Equal(t, ServerConfig{ListenAddress: "127.0.0.1:10030", ReadTimeout: time.Minute, Header: "X-Policy-Checks"}, server)

	policy, err := cfg.GetPolicy()
	require.NoError(t, err)
	assert.Equal(t, PolicyConfig{Domain: "localhost", CheckTimeout: 30 * time.Second}, policy)

	cache, err := cfg.GetCache()
	require.NoError(t, err)
	assert.True(t, cache.Enabled)

	store, err := cfg.GetStore()
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Type)
	assert.Equal(t, time.Hour, store.CleanupFrequency)

	dns, err := cfg.GetDNS()
	require.NoError(t, err)
	assert.Empty(t, dns.Nameservers)
	assert.Equal(t, 2, dns.Retries)

	assert.Equal(t, SMTPConfig{Port: 25, RateLimit: 0, RateBurst: 10}, cfg.GetSMTP())

	checks, err := cfg.GetChecks()
	require.NoError(t, err)
	assert.Empty(t, checks)
}

func TestLoad(t *testing.T) {
	cfg := loadTestConfig(t)

	server, err := cfg.GetServer()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9998", server.ListenAddress)
	assert.Equal(t, 30*time.Second, server.ReadTimeout)

	cache, err := cfg.GetCache()
	require.NoError(t, err)
	assert.False(t, cache.Enabled)

	store, err := cfg.GetStore()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", store.Type)
	assert.Equal(t, "/tmp/ppolicy.db", store.SQLitePath)

	dns, err := cfg.GetDNS()
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.53"}, dns.Nameservers)
	assert.Equal(t, 2*time.Second, dns.Timeout)
}

func TestGetBlacklists(t *testing.T) {
	lists, err := loadTestConfig(t).GetBlacklists()
	require.NoError(t, err)
	require.Len(t, lists, 2)

	assert.Equal(t, BlacklistConfig{
		Zone:         "zen.example",
		DefaultScore: 1,
		Scores:       []BlacklistScore{{Answer: "127.0.0.2", Score: 3}},
	}, lists["zen"])
	assert.Equal(t, "name", lists["dbl"].Type)
}

func TestGetChecks(t *testing.T) {
	checks, err := loadTestConfig(t).GetChecks()
	require.NoError(t, err)
	require.Len(t, checks, 2)

	assert.Equal(t, "verify_sender", checks[0].Name)
	assert.Equal(t, "verification", checks[0].Type)

	opts := FromMap(checks[0].Options)
	assert.Equal(t, "domain", opts.GetString("vtype"))
	assert.True(t, opts.GetBool("cacheDB"))

	opts = FromMap(checks[1].Options)
	assert.Equal(t, []string{"zen", "dbl"}, opts.GetStringSlice("dnsbl"))
	assert.Equal(t, 4.0, opts.GetFloat64("threshold"))
}

func TestGetChecksInvalid(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())
	cfg.Set("checks", []map[string]any{{"type": "dnsbl"}})
	_, err := cfg.GetChecks()
	assert.ErrorContains(t, err, "has no name")

	cfg.Set("checks", []map[string]any{{"name": "x"}})
	_, err = cfg.GetChecks()
	assert.ErrorContains(t, err, "has no type")
}

func TestFromMap(t *testing.T) {
	cfg := FromMap(map[string]any{"timeout": 5, "param": "sender"})
	cfg.SetDefault("timeout", 20)
	cfg.SetDefault("vtype", "mx")

	assert.Equal(t, 5*time.Second, cfg.GetSeconds("timeout"))
	assert.Equal(t, "mx", cfg.GetString("vtype"))
	assert.True(t, cfg.IsSet("param"))
	assert.False(t, cfg.IsSet("table"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
