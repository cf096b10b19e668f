package dns

import (
	"context"
	"net"
	"sort"
	"strings"

	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// Mailhosts resolves the hosts that accept mail for a domain (RFC 5321 5.1)
type Mailhosts struct {
	resolver Resolver
	logger   *zap.Logger
}

var _ core.MailhostResolver = (*Mailhosts)(nil)

// NewMailhosts creates a new mailhost resolver
func NewMailhosts(resolver Resolver, logger *zap.Logger) *Mailhosts {
	return &Mailhosts{
		resolver: resolver,
		logger:   logger,
	}
}

// ResolveMailhosts returns MX hosts ordered by preference. Without MX
// records the domain itself is returned when it has address records. A
// null MX or a non-existent domain yields an empty list, not an error.
// Unless local is set, hosts pointing at the loopback network are dropped.
func (m *Mailhosts) ResolveMailhosts(ctx context.Context, domain string, local bool) ([]string, error) {
	domain = trimDot(strings.TrimSpace(domain))

	mxs, err := m.resolver.LookupMX(ctx, domain)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	if len(mxs) > 0 {
		// RFC 7505 null MX: the domain explicitly accepts no mail
		if len(mxs) == 1 && trimDot(mxs[0].Host) == "" {
			return nil, nil
		}

		sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })

		seen := make(map[string]struct{}, len(mxs))
		hosts := make([]string, 0, len(mxs))
		for _, mx := range mxs {
			host := strings.ToLower(trimDot(mx.Host))
			if host == "" {
				continue
			}
			if _, dup := seen[host]; dup {
				continue
			}
			seen[host] = struct{}{}
			if !local && isLocalHost(host) {
				m.logger.Debug("Skipping local mailhost",
					zap.String("domain", domain),
					zap.String("host", host))
				continue
			}
			hosts = append(hosts, host)
		}
		return hosts, nil
	}

	ips, err := m.resolver.LookupHost(ctx, domain)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if !local && allLoopback(ips) {
		return nil, nil
	}
	return []string{domain}, nil
}

func isLocalHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}

func allLoopback(ips []net.IP) bool {
	for _, ip := range ips {
		if !ip.IsLoopback() && !ip.IsUnspecified() {
			return false
		}
	}
	return len(ips) > 0
}
