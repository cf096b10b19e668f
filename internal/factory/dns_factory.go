package factory

import (
	"github.com/mikey/mail-policy/internal/adapters/dns"
	"github.com/mikey/mail-policy/internal/config"
	"go.uber.org/zap"
)

// DNSFactory creates the resolver and the components built on it
type DNSFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewDNSFactory creates a new DNS factory
func NewDNSFactory(cfg *config.Config, logger *zap.Logger) *DNSFactory {
	return &DNSFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateResolver creates the DNS resolver
func (f *DNSFactory) CreateResolver() (dns.Resolver, error) {
	dnsCfg, err := f.cfg.GetDNS()
	if err != nil {
		return nil, err
	}
	r := dns.NewResolver(dns.ResolverConfig{
		Nameservers: dnsCfg.Nameservers,
		Timeout:     dnsCfg.Timeout,
		Retries:     dnsCfg.Retries,
	})
	f.logger.Info("DNS resolver configured", zap.Strings("nameservers", r.Config().Nameservers))
	return r, nil
}

// CreateMailhosts creates the mailhost resolver
func (f *DNSFactory) CreateMailhosts(resolver dns.Resolver) *dns.Mailhosts {
	return dns.NewMailhosts(resolver, f.logger)
}

// CreateBlacklists creates the blacklist registry from the dnsbl.lists section
func (f *DNSFactory) CreateBlacklists(resolver dns.Resolver) (*dns.Blacklists, error) {
	defs, err := f.cfg.GetBlacklists()
	if err != nil {
		return nil, err
	}

	lists := make(map[string]dns.List, len(defs))
	for id, def := range defs {
		scores := make(map[string]float64, len(def.Scores))
		for _, s := range def.Scores {
			scores[s.Answer] = s.Score
		}
		lists[id] = dns.List{
			Zone:         def.Zone,
			Type:         dns.ListType(def.Type),
			DefaultScore: def.DefaultScore,
			Scores:       scores,
		}
	}

	return dns.NewBlacklists(resolver, lists, f.logger)
}
