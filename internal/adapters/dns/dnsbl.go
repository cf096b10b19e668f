package dns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	mdns "github.com/miekg/dns"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ListType selects which kind of value a blacklist zone indexes
type ListType string

const (
	ListIP   ListType = "ip"
	ListName ListType = "name"
)

// List describes one DNS blacklist zone and how its answers are scored
type List struct {
	Zone string
	Type ListType
	// DefaultScore applies to a listing whose answer has no entry in Scores
	DefaultScore float64
	// Scores maps answer addresses (e.g. "127.0.0.2") to their score
	Scores map[string]float64
}

// Blacklists is the registry of configured blacklists and the scorer over them
type Blacklists struct {
	resolver Resolver
	lists    map[string]List
	logger   *zap.Logger
}

var _ core.BlacklistScorer = (*Blacklists)(nil)

// NewBlacklists validates the list definitions and creates the registry
func NewBlacklists(resolver Resolver, lists map[string]List, logger *zap.Logger) (*Blacklists, error) {
	normalized := make(map[string]List, len(lists))
	for id, l := range lists {
		l.Zone = strings.Trim(strings.TrimSpace(l.Zone), ".")
		if l.Zone == "" {
			return nil, fmt.Errorf("blacklist %s: zone is required", id)
		}
		switch l.Type {
		case "":
			l.Type = ListIP
		case ListIP, ListName:
		default:
			return nil, fmt.Errorf("blacklist %s: unsupported type %q", id, l.Type)
		}
		normalized[id] = l
	}

	return &Blacklists{
		resolver: resolver,
		lists:    normalized,
		logger:   logger,
	}, nil
}

// HasList reports whether a blacklist id is configured
func (b *Blacklists) HasList(id string) bool {
	_, ok := b.lists[id]
	return ok
}

// IDs returns the configured blacklist ids, sorted
func (b *Blacklists) IDs() []string {
	ids := make([]string, 0, len(b.lists))
	for id := range b.lists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type listing struct {
	listed bool
	score  float64
}

// Score looks address (or name) up in every given list concurrently and sums
// the scores of the lists reporting a listing. Lookup failures count as not listed.
func (b *Blacklists) Score(ctx context.Context, address, name string, ids []string) (int, float64) {
	results := make([]listing, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		list, ok := b.lists[id]
		if !ok {
			continue
		}

		qname, ok := b.queryName(list, address, name)
		if !ok {
			continue
		}

		g.Go(func() error {
			results[i] = b.lookup(ctx, id, list, qname)
			return nil
		})
	}
	_ = g.Wait()

	hits := 0
	score := 0.0
	for _, r := range results {
		if r.listed {
			hits++
			score += r.score
		}
	}
	return hits, score
}

// queryName builds the name to look up in a list, if the list indexes that kind of value
func (b *Blacklists) queryName(list List, address, name string) (string, bool) {
	switch {
	case address != "" && list.Type == ListIP:
		rev, err := reverseIP(address)
		if err != nil {
			b.logger.Debug("Cannot reverse client address", zap.String("address", address), zap.Error(err))
			return "", false
		}
		return rev + "." + list.Zone, true
	case name != "" && list.Type == ListName:
		return trimDot(name) + "." + list.Zone, true
	default:
		return "", false
	}
}

func (b *Blacklists) lookup(ctx context.Context, id string, list List, qname string) listing {
	ips, err := b.resolver.LookupHost(ctx, qname)
	if err != nil {
		if !IsNotFound(err) {
			b.logger.Info("Blacklist query failed",
				zap.String("list", id),
				zap.String("query", qname),
				zap.Error(err))
		}
		return listing{}
	}

	var (
		res     listing
		matched bool
	)
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil || v4[0] != 127 {
			b.logger.Debug("Unexpected blacklist answer",
				zap.String("list", id),
				zap.String("query", qname),
				zap.String("answer", ip.String()))
			continue
		}
		res.listed = true
		if s, ok := list.Scores[v4.String()]; ok {
			res.score += s
			matched = true
		}
	}
	if res.listed && !matched {
		res.score = list.DefaultScore
	}

	if res.listed {
		b.logger.Debug("Blacklist hit",
			zap.String("list", id),
			zap.String("query", qname),
			zap.Float64("score", res.score))
	}
	return res
}

// reverseIP returns the DNSBL label form of an address: reversed octets for
// IPv4, reversed nibbles for IPv6
func reverseIP(address string) (string, error) {
	ip := net.ParseIP(strings.Trim(address, "[]"))
	if ip == nil {
		return "", fmt.Errorf("invalid IP address %q", address)
	}

	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return "", err
	}
	arpa = strings.TrimSuffix(arpa, "in-addr.arpa.")
	arpa = strings.TrimSuffix(arpa, "ip6.arpa.")
	return strings.TrimSuffix(arpa, "."), nil
}
