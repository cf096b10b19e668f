// Package dns resolves mail exchangers and DNS blacklist listings.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

var (
	// ErrNotFound is returned for NXDOMAIN and for names without records of the asked type
	ErrNotFound = errors.New("dns: record not found")
	// ErrServFail is returned when every nameserver failed to answer
	ErrServFail = errors.New("dns: server failure")
	// ErrRefused is returned when the nameserver refused the query
	ErrRefused = errors.New("dns: query refused")
)

// IsNotFound reports whether err means the name has no such records
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Resolver is the subset of DNS lookups the checks need
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, name string) ([]net.IP, error)
}

// ResolverConfig contains configuration for the DNS resolver
type ResolverConfig struct {
	// Nameservers to query ("host:port"); /etc/resolv.conf when empty
	Nameservers []string
	Timeout     time.Duration
	Retries     int
}

// DNSResolver implements Resolver with github.com/miekg/dns
type DNSResolver struct {
	config ResolverConfig
	client *mdns.Client
}

var _ Resolver = (*DNSResolver)(nil)

// NewResolver creates a new DNS resolver
func NewResolver(config ResolverConfig) *DNSResolver {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = systemNameservers()
	}

	return &DNSResolver{
		config: config,
		client: &mdns.Client{Timeout: config.Timeout},
	}
}

// Config returns the resolver's effective configuration
func (r *DNSResolver) Config() ResolverConfig {
	return r.config
}

func systemNameservers() []string {
	cc, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cc.Servers) == 0 {
		return []string{"127.0.0.1:53"}
	}

	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return servers
}

// query sends one question to the configured nameservers, retrying on failure
func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = fmt.Errorf("dns query failed: %w", err)
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError:
				return nil, ErrNotFound
			case mdns.RcodeRefused:
				lastErr = ErrRefused
			case mdns.RcodeServerFailure:
				lastErr = ErrServFail
			default:
				lastErr = fmt.Errorf("dns: unexpected rcode %s", mdns.RcodeToString[resp.Rcode])
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrServFail
}

// LookupMX retrieves MX records for the given domain
func (r *DNSResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	resp, err := r.query(ctx, name, mdns.TypeMX)
	if err != nil {
		return nil, err
	}

	var records []*net.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*mdns.MX); ok {
			records = append(records, &net.MX{Host: mx.Mx, Pref: mx.Preference})
		}
	}

	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

// LookupHost retrieves A and AAAA records for the given name
func (r *DNSResolver) LookupHost(ctx context.Context, name string) ([]net.IP, error) {
	var (
		ips     []net.IP
		lastErr error
	)

	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		resp, err := r.query(ctx, name, qtype)
		if err != nil {
			if !IsNotFound(err) {
				lastErr = err
			}
			continue
		}
		for _, rr := range resp.Answer {
			switch a := rr.(type) {
			case *mdns.A:
				ips = append(ips, a.A)
			case *mdns.AAAA:
				ips = append(ips, a.AAAA)
			}
		}
	}

	if len(ips) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrNotFound
	}
	return ips, nil
}

// trimDot strips the trailing root label of a name
func trimDot(name string) string {
	return strings.TrimSuffix(name, ".")
}
