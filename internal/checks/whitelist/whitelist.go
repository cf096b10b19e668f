// Package whitelist checks a request field against a static list of domains.
// A listed domain also matches its subdomains.
package whitelist

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Type is the module type name used in configuration
const Type = "whitelist"

// Checker checks if the domain of a request field is whitelisted
type Checker struct {
	name    string
	param   string
	domains map[string]struct{}
	policy  core.TTLPolicy
	logger  *zap.Logger
}

var _ core.Checkable = (*Checker)(nil)

// New creates a new whitelist checker
func New(name string, cfg *config.Config, logger *zap.Logger) (*Checker, error) {
	cfg.SetDefault("param", core.FieldSender)
	cfg.SetDefault("cachePositive", 0)
	cfg.SetDefault("cacheUnknown", 0)
	cfg.SetDefault("cacheNegative", 0)

	param := cfg.GetString("param")
	if _, dropped := core.ValidateFields([]string{param}, core.KnownFields); len(dropped) > 0 {
		return nil, core.NewConfigError(name, "unknown param %q", param)
	}

	// Normalize domains
	domains := make(map[string]struct{})
	for _, d := range cfg.GetStringSlice("domains") {
		if d = normalize(d); d != "" {
			domains[d] = struct{}{}
		}
	}
	if len(domains) == 0 {
		return nil, core.NewConfigError(name, "parameter \"domains\" has to be specified for this module")
	}

	logger = logger.Named(name)
	logger.Info("Initialized whitelist checker", zap.Int("domains", len(domains)))

	return &Checker{
		name:    name,
		param:   param,
		domains: domains,
		policy: core.TTLPolicy{
			Positive: cfg.GetSeconds("cachePositive"),
			Unknown:  cfg.GetSeconds("cacheUnknown"),
			Negative: cfg.GetSeconds("cacheNegative"),
		},
		logger: logger,
	}, nil
}

func normalize(domain string) string {
	return strings.TrimSuffix(cases.Fold().String(strings.TrimSpace(domain)), ".")
}

// Name returns the module instance name
func (c *Checker) Name() string {
	return c.name
}

// CachePolicy returns the TTL of each cache tier
func (c *Checker) CachePolicy() core.TTLPolicy {
	return c.policy
}

// Fingerprint derives the cache key from the checked field
func (c *Checker) Fingerprint(req core.Request) string {
	return core.DeriveFingerprint(req, []string{c.param})
}

// IsWhitelisted checks if the domain or one of its parents is listed
func (c *Checker) IsWhitelisted(domain string) bool {
	domain = normalize(domain)
	for domain != "" {
		if _, ok := c.domains[domain]; ok {
			return true
		}
		i := strings.IndexByte(domain, '.')
		if i < 0 {
			break
		}
		domain = domain[i+1:]
	}
	return false
}

// Check returns 1 for a whitelisted domain and -1 otherwise
func (c *Checker) Check(ctx context.Context, req core.Request) core.Verdict {
	domain := core.FieldValue(req, c.param)
	if domain == "" {
		return core.Verdict{Score: 0, Explanation: fmt.Sprintf("%s no domain in %s", c.name, c.param)}
	}

	if c.IsWhitelisted(domain) {
		c.logger.Debug("Domain is whitelisted", zap.String("domain", domain))
		return core.Verdict{Score: 1, Explanation: fmt.Sprintf("%s %s is whitelisted", c.name, domain)}
	}
	return core.Verdict{Score: -1, Explanation: fmt.Sprintf("%s %s is not whitelisted", c.name, domain)}
}
