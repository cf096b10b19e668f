package di

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-policy/internal/adapters/cache"
	"github.com/mikey/mail-policy/internal/adapters/dns"
	"github.com/mikey/mail-policy/internal/adapters/smtpprobe"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/mikey/mail-policy/internal/factory"
	"github.com/mikey/mail-policy/internal/logging"
	"github.com/mikey/mail-policy/internal/metrics"
	"github.com/mikey/mail-policy/internal/ports"
)

// BuildContainer creates and configures a dependency injection container for
// the policy server. An empty configFile searches the default locations.
func BuildContainer(configFile string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.Load(configFile)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register metrics
	if err := container.Provide(metrics.NewRecorder); err != nil {
		return nil, err
	}
	if err := container.Provide(func(r *metrics.Recorder) core.Recorder {
		return r
	}); err != nil {
		return nil, err
	}

	if err := provideChecks(container); err != nil {
		return nil, err
	}

	// Register policy front end
	if err := container.Provide(func(f *factory.FrontendFactory) (ports.PolicyFrontend, error) {
		return f.CreatePolicyServer()
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideChecks registers everything from the clock up to the check service.
// Configuration, logger and core.Recorder must already be provided.
func provideChecks(container *dig.Container) error {
	// Register clock
	if err := container.Provide(clockwork.NewRealClock); err != nil {
		return err
	}

	// Register factories
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewDNSFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewFrontendFactory); err != nil {
		return err
	}

	// Register DNS collaborators
	if err := container.Provide(func(f *factory.DNSFactory) (dns.Resolver, error) {
		return f.CreateResolver()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.DNSFactory, r dns.Resolver) *dns.Mailhosts {
		return f.CreateMailhosts(r)
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.DNSFactory, r dns.Resolver) (*dns.Blacklists, error) {
		return f.CreateBlacklists(r)
	}); err != nil {
		return err
	}

	// Register SMTP probe dialer
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (core.SMTPDialer, error) {
		policyCfg, err := cfg.GetPolicy()
		if err != nil {
			return nil, err
		}
		smtpCfg := cfg.GetSMTP()
		var opts []smtpprobe.Option
		if smtpCfg.RateLimit > 0 {
			opts = append(opts, smtpprobe.WithRateLimit(smtpCfg.RateLimit, smtpCfg.RateBurst))
		}
		return smtpprobe.NewDialer(smtpCfg.Port, policyCfg.Domain, logger, opts...), nil
	}); err != nil {
		return err
	}

	// Register persistent store
	if err := container.Provide(func(f *factory.CacheFactory) (factory.PersistentStore, error) {
		return f.CreatePersistentStore()
	}); err != nil {
		return err
	}

	// Register fingerprint cache
	if err := container.Provide(func(f *factory.CacheFactory) (*cache.MemoryCache, error) {
		return f.CreateFingerprintCache()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(c *cache.MemoryCache) core.FingerprintCache {
		if c == nil {
			return nil
		}
		return c
	}); err != nil {
		return err
	}

	// Register checks
	if err := container.Provide(func(
		cfg *config.Config,
		logger *zap.Logger,
		clock clockwork.Clock,
		blacklists *dns.Blacklists,
		mailhosts *dns.Mailhosts,
		dialer core.SMTPDialer,
		st factory.PersistentStore,
	) ([]core.Checkable, error) {
		f := factory.NewCheckFactory(cfg, factory.CheckDeps{
			Blacklists: blacklists,
			Mailhosts:  mailhosts,
			Dialer:     dialer,
			Store:      st,
			Clock:      clock,
		}, logger)
		return f.CreateChecks(context.Background())
	}); err != nil {
		return err
	}

	// Register check service
	if err := container.Provide(func(
		cfg *config.Config,
		checks []core.Checkable,
		fc core.FingerprintCache,
		logger *zap.Logger,
		recorder core.Recorder,
	) (*core.CheckService, error) {
		policyCfg, err := cfg.GetPolicy()
		if err != nil {
			return nil, err
		}
		return core.NewCheckService(checks, fc, logger, recorder, policyCfg.CheckTimeout), nil
	}); err != nil {
		return err
	}

	return nil
}
