package dns

import (
	"context"
	"net"
	"slices"
	"sync/atomic"
)

// MockResolver is a Resolver used for testing.
// Maps are keyed by names without the trailing dot.
type MockResolver struct {
	A  map[string][]string
	MX map[string][]*net.MX

	// Fail contains lookups that return ErrServFail, e.g. "mx example.com"
	Fail []string

	calls atomic.Int64
}

var _ Resolver = (*MockResolver)(nil)

// Calls returns how many lookups were made
func (r *MockResolver) Calls() int {
	return int(r.calls.Load())
}

func (r *MockResolver) fails(kind, name string) bool {
	return slices.Contains(r.Fail, kind+" "+name)
}

// LookupMX returns MX records for the given domain
func (r *MockResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	r.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name = trimDot(name)
	if r.fails("mx", name) {
		return nil, ErrServFail
	}

	records, ok := r.MX[name]
	if !ok || len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

// LookupHost returns address records for the given name
func (r *MockResolver) LookupHost(ctx context.Context, name string) ([]net.IP, error) {
	r.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name = trimDot(name)
	if r.fails("a", name) {
		return nil, ErrServFail
	}

	var ips []net.IP
	for _, s := range r.A[name] {
		ips = append(ips, net.ParseIP(s))
	}
	if len(ips) == 0 {
		return nil, ErrNotFound
	}
	return ips, nil
}
