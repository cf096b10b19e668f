package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	return Load("")
}

// Load reads the configuration from file, or from the default search
// path when file is empty
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/ppolicy/")
		v.AddConfigPath("$HOME/.ppolicy")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("PPOLICY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// FromMap wraps a module's option map so it can be read with the usual getters
func FromMap(options map[string]any) *Config {
	v := viper.New()
	if len(options) > 0 {
		// MergeConfigMap only fails for maps it cannot walk, which decoded YAML never produces
		_ = v.MergeConfigMap(options)
	}
	return &Config{v: v}
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_address", "127.0.0.1:10030")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.header", "X-Policy-Checks")

	// Policy defaults
	v.SetDefault("policy.domain", "localhost")
	v.SetDefault("policy.check_timeout", "30s")

	// Fingerprint cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.cleanup_frequency", "5m")

	// Persistent store defaults
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.cleanup_frequency", "1h")
	v.SetDefault("store.sqlite_path", "/var/lib/ppolicy/cache.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/ppolicy")
	v.SetDefault("store.postgres_url", "postgres://ppolicy@localhost:5432/ppolicy")

	// DNS defaults
	v.SetDefault("dns.nameservers", []string{})
	v.SetDefault("dns.timeout", "5s")
	v.SetDefault("dns.retries", 2)

	// SMTP probe defaults
	v.SetDefault("smtp.port", 25)
	v.SetDefault("smtp.rate_limit", 0)
	v.SetDefault("smtp.rate_burst", 10)

	// Metrics defaults
	v.SetDefault("metrics.listen_address", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// SetDefault sets a default for a key that is not configured
func (c *Config) SetDefault(key string, value any) {
	c.v.SetDefault(key, value)
}

// IsSet reports whether the key has a value, defaults included
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key) && c.v.Get(key) != nil
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetSeconds reads an integer number of seconds as a duration
func (c *Config) GetSeconds(key string) time.Duration {
	return time.Duration(c.v.GetInt64(key)) * time.Second
}

// Set overrides a value
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
