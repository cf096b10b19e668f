package dns

import (
	"context"
	"net"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startServer runs an authoritative test nameserver on a loopback UDP port
func startServer(t *testing.T) string {
	t.Helper()

	handler := mdns.HandlerFunc(func(w mdns.ResponseWriter, req *mdns.Msg) {
		m := new(mdns.Msg)
		m.SetReply(req)
		q := req.Question[0]

		switch {
		case q.Name == "example.com." && q.Qtype == mdns.TypeMX:
			m.Answer = append(m.Answer,
				&mdns.MX{Hdr: mdns.RR_Header{Name: q.Name, Rrtype: mdns.TypeMX, Class: mdns.ClassINET, Ttl: 60}, Preference: 10, Mx: "mx1.example.com."},
				&mdns.MX{Hdr: mdns.RR_Header{Name: q.Name, Rrtype: mdns.TypeMX, Class: mdns.ClassINET, Ttl: 60}, Preference: 20, Mx: "mx2.example.com."},
			)
		case q.Name == "mx1.example.com." && q.Qtype == mdns.TypeA:
			m.Answer = append(m.Answer,
				&mdns.A{Hdr: mdns.RR_Header{Name: q.Name, Rrtype: mdns.TypeA, Class: mdns.ClassINET, Ttl: 60}, A: net.ParseIP("192.0.2.25")})
		case q.Name == "mx1.example.com." && q.Qtype == mdns.TypeAAAA:
			m.Answer = append(m.Answer,
				&mdns.AAAA{Hdr: mdns.RR_Header{Name: q.Name, Rrtype: mdns.TypeAAAA, Class: mdns.ClassINET, Ttl: 60}, AAAA: net.ParseIP("2001:db8::25")})
		case q.Name == "broken.example.":
			m.Rcode = mdns.RcodeServerFailure
		case q.Name == "example.com.":
			// NODATA
		default:
			m.Rcode = mdns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("test nameserver did not start")
	}
	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startServer(t)
	r := NewResolver(ResolverConfig{Nameservers: []string{addr}, Timeout: 2 * time.Second})
	ctx := context.Background()

	mxs, err := r.LookupMX(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, mxs, 2)
	assert.Equal(t, "mx1.example.com.", mxs[0].Host)
	assert.EqualValues(t, 20, mxs[1].Pref)

	ips, err := r.LookupHost(ctx, "mx1.example.com")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "192.0.2.25", ips[0].String())
	assert.Equal(t, "2001:db8::25", ips[1].String())

	// NODATA and NXDOMAIN both mean "not found"
	_, err = r.LookupHost(ctx, "example.com")
	assert.True(t, IsNotFound(err))
	_, err = r.LookupMX(ctx, "missing.example")
	assert.True(t, IsNotFound(err))

	_, err = r.LookupMX(ctx, "broken.example")
	assert.ErrorIs(t, err, ErrServFail)
}

func TestDNSResolverMailhosts(t *testing.T) {
	addr := startServer(t)
	r := NewResolver(ResolverConfig{Nameservers: []string{addr}, Timeout: 2 * time.Second})

	hosts, err := NewMailhosts(r, zap.NewNop()).ResolveMailhosts(context.Background(), "example.com", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"mx1.example.com", "mx2.example.com"}, hosts)
}

func TestDNSResolverCancelled(t *testing.T) {
	r := NewResolver(ResolverConfig{Nameservers: []string{"127.0.0.1:1"}, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.LookupMX(ctx, "example.com")
	assert.ErrorIs(t, err, context.Canceled)
}
