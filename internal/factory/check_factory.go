package factory

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mikey/mail-policy/internal/checks/dnsbl"
	"github.com/mikey/mail-policy/internal/checks/dump"
	"github.com/mikey/mail-policy/internal/checks/spf"
	"github.com/mikey/mail-policy/internal/checks/verification"
	"github.com/mikey/mail-policy/internal/checks/whitelist"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// CheckDeps are the shared collaborators handed to check modules
type CheckDeps struct {
	Blacklists core.BlacklistScorer
	Mailhosts  core.MailhostResolver
	Dialer     core.SMTPDialer
	Store      core.PersistentStore
	Clock      clockwork.Clock
}

// CheckFactory creates check modules based on configuration
type CheckFactory struct {
	cfg    *config.Config
	deps   CheckDeps
	logger *zap.Logger
}

// NewCheckFactory creates a new check factory
func NewCheckFactory(cfg *config.Config, deps CheckDeps, logger *zap.Logger) *CheckFactory {
	return &CheckFactory{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// CreateChecks creates every configured check in configuration order
func (f *CheckFactory) CreateChecks(ctx context.Context) ([]core.Checkable, error) {
	defs, err := f.cfg.GetChecks()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(defs))
	checks := make([]core.Checkable, 0, len(defs))
	for _, def := range defs {
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("duplicate check name: %s", def.Name)
		}
		seen[def.Name] = struct{}{}

		c, err := f.CreateCheck(ctx, def)
		if err != nil {
			return nil, err
		}
		f.logger.Info("Configured check", zap.String("name", def.Name), zap.String("type", def.Type))
		checks = append(checks, c)
	}
	return checks, nil
}

// CreateCheck creates one check module from its definition
func (f *CheckFactory) CreateCheck(ctx context.Context, def config.CheckDefinition) (core.Checkable, error) {
	opts := config.FromMap(def.Options)

	switch def.Type {
	case dnsbl.Type:
		return dnsbl.New(def.Name, opts, f.deps.Blacklists, f.logger)
	case verification.Type:
		policyCfg, err := f.cfg.GetPolicy()
		if err != nil {
			return nil, err
		}
		return verification.New(ctx, def.Name, opts, verification.Deps{
			Resolver:    f.deps.Mailhosts,
			Dialer:      f.deps.Dialer,
			Store:       f.deps.Store,
			LocalDomain: policyCfg.Domain,
		}, f.logger)
	case dump.Type:
		return dump.New(def.Name, opts, f.deps.Clock, f.logger)
	case whitelist.Type:
		return whitelist.New(def.Name, opts, f.logger)
	case spf.Type:
		return spf.New(def.Name, opts, nil, f.logger)
	default:
		return nil, fmt.Errorf("unsupported check type %q for %s", def.Type, def.Name)
	}
}
