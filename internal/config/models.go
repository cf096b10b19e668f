package config

import (
	"fmt"
	"time"
)

// ServerConfig represents the policy server configuration
type ServerConfig struct {
	ListenAddress string
	ReadTimeout   time.Duration
	Header        string
}

// PolicyConfig holds settings shared by all checks
type PolicyConfig struct {
	// Domain is used for HELO and the probe MAIL FROM address
	Domain       string
	CheckTimeout time.Duration
}

// CacheConfig represents the fingerprint cache configuration
type CacheConfig struct {
	Enabled          bool
	CleanupFrequency time.Duration
}

// StoreConfig represents the persistent store configuration
type StoreConfig struct {
	Type             string
	SQLitePath       string
	MySQLDSN         string
	PostgresURL      string
	CleanupFrequency time.Duration
}

// DNSConfig represents the resolver configuration
type DNSConfig struct {
	Nameservers []string
	Timeout     time.Duration
	Retries     int
}

// SMTPConfig represents the SMTP probe configuration
type SMTPConfig struct {
	Port int
	// RateLimit is the number of probe connections per second, 0 for no limit
	RateLimit float64
	RateBurst int
}

// BlacklistScore maps one blacklist answer to a score
type BlacklistScore struct {
	Answer string  `mapstructure:"answer"`
	Score  float64 `mapstructure:"score"`
}

// BlacklistConfig describes one DNS blacklist zone
type BlacklistConfig struct {
	Zone         string           `mapstructure:"zone"`
	Type         string           `mapstructure:"type"`
	DefaultScore float64          `mapstructure:"default_score"`
	Scores       []BlacklistScore `mapstructure:"scores"`
}

// CheckDefinition declares one check module instance
type CheckDefinition struct {
	Name    string         `mapstructure:"name"`
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"options"`
}

// GetServer returns the policy server configuration
func (c *Config) GetServer() (ServerConfig, error) {
	readTimeout, err := c.GetDuration("server.read_timeout")
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid server read timeout: %w", err)
	}
	return ServerConfig{
		ListenAddress: c.GetString("server.listen_address"),
		ReadTimeout:   readTimeout,
		Header:        c.GetString("server.header"),
	}, nil
}

// GetPolicy returns the shared check settings
func (c *Config) GetPolicy() (PolicyConfig, error) {
	timeout, err := c.GetDuration("policy.check_timeout")
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("invalid check timeout: %w", err)
	}
	return PolicyConfig{
		Domain:       c.GetString("policy.domain"),
		CheckTimeout: timeout,
	}, nil
}

// GetCache returns the fingerprint cache configuration
func (c *Config) GetCache() (CacheConfig, error) {
	freq, err := c.GetDuration("cache.cleanup_frequency")
	if err != nil {
		return CacheConfig{}, fmt.Errorf("invalid cache cleanup frequency: %w", err)
	}
	return CacheConfig{
		Enabled:          c.GetBool("cache.enabled"),
		CleanupFrequency: freq,
	}, nil
}

// GetStore returns the persistent store configuration
func (c *Config) GetStore() (StoreConfig, error) {
	freq, err := c.GetDuration("store.cleanup_frequency")
	if err != nil {
		return StoreConfig{}, fmt.Errorf("invalid store cleanup frequency: %w", err)
	}
	return StoreConfig{
		Type:             c.GetString("store.type"),
		SQLitePath:       c.GetString("store.sqlite_path"),
		MySQLDSN:         c.GetString("store.mysql_dsn"),
		PostgresURL:      c.GetString("store.postgres_url"),
		CleanupFrequency: freq,
	}, nil
}

// GetDNS returns the resolver configuration
func (c *Config) GetDNS() (DNSConfig, error) {
	timeout, err := c.GetDuration("dns.timeout")
	if err != nil {
		return DNSConfig{}, fmt.Errorf("invalid dns timeout: %w", err)
	}
	return DNSConfig{
		Nameservers: c.GetStringSlice("dns.nameservers"),
		Timeout:     timeout,
		Retries:     c.GetInt("dns.retries"),
	}, nil
}

// GetSMTP returns the SMTP probe configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		Port:      c.GetInt("smtp.port"),
		RateLimit: c.GetFloat64("smtp.rate_limit"),
		RateBurst: c.GetInt("smtp.rate_burst"),
	}
}

// GetBlacklists returns the configured DNS blacklists by id
func (c *Config) GetBlacklists() (map[string]BlacklistConfig, error) {
	lists := make(map[string]BlacklistConfig)
	if err := c.v.UnmarshalKey("dnsbl.lists", &lists); err != nil {
		return nil, fmt.Errorf("invalid dnsbl lists: %w", err)
	}
	return lists, nil
}

// GetChecks returns the configured check modules in order
func (c *Config) GetChecks() ([]CheckDefinition, error) {
	var defs []CheckDefinition
	if err := c.v.UnmarshalKey("checks", &defs); err != nil {
		return nil, fmt.Errorf("invalid checks: %w", err)
	}
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("check #%d has no name", i+1)
		}
		if d.Type == "" {
			return nil, fmt.Errorf("check %s has no type", d.Name)
		}
	}
	return defs, nil
}
