// Package smtpprobe opens short SMTP client sessions to mail exchangers to
// find out whether they accept a domain or mailbox.
package smtpprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dialer implements core.SMTPDialer on top of the go-smtp client
type Dialer struct {
	port     int
	heloName string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

var _ core.SMTPDialer = (*Dialer)(nil)

// Option configures a Dialer
type Option func(*Dialer)

// WithRateLimit bounds how many probe connections are opened per second
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dialer) {
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewDialer creates a new probe dialer. heloName is announced in HELO/EHLO.
func NewDialer(port int, heloName string, logger *zap.Logger, opts ...Option) *Dialer {
	if port <= 0 {
		port = 25
	}
	if heloName == "" {
		heloName = "localhost"
	}
	d := &Dialer{
		port:     port,
		heloName: heloName,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial connects to host and waits for its 220 greeting. Any other greeting
// is returned as a *GreetingError. Connecting and each later command are
// bounded by timeout.
func (d *Dialer) Dial(ctx context.Context, host string, timeout time.Duration) (core.SMTPSession, error) {
	addr := d.address(host)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("probe to %s not started: %w", addr, err)
		}
	}

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	nd := net.Dialer{Deadline: deadline}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	// cancellation of ctx aborts any blocked read or write
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})

	r := bufio.NewReader(conn)
	greeting, err := readGreeting(r, addr)
	if err != nil {
		stop()
		conn.Close()
		return nil, err
	}

	d.logger.Debug("Opened SMTP probe connection",
		zap.String("address", addr),
		zap.String("greeting", greeting))

	// go-smtp reads the greeting itself, so it is handed a copy
	client := smtp.NewClient(&greetedConn{
		Conn: conn,
		r:    io.MultiReader(strings.NewReader("220 "+greeting+"\r\n"), r),
	})
	// go-smtp replaces the connection deadline on every command
	client.CommandTimeout = timeout
	client.SubmissionTimeout = timeout

	return &session{
		client:   client,
		addr:     addr,
		heloName: d.heloName,
		stop:     stop,
	}, nil
}

// GreetingError is returned by Dial when the server answers the connection
// with something other than 220
type GreetingError struct {
	Addr string
	Code int
	Text string
}

func (e *GreetingError) Error() string {
	return fmt.Sprintf("%s refused the session with %d %s", e.Addr, e.Code, e.Text)
}

// readGreeting consumes the server greeting and returns its text on one line
func readGreeting(r *bufio.Reader, addr string) (string, error) {
	_, msg, err := textproto.NewReader(r).ReadResponse(220)
	if err != nil {
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) {
			return "", &GreetingError{Addr: addr, Code: protoErr.Code, Text: protoErr.Msg}
		}
		return "", fmt.Errorf("no SMTP greeting from %s: %w", addr, err)
	}
	return strings.ReplaceAll(msg, "\n", " "), nil
}

// greetedConn serves reads from r, which starts with the replayed greeting
type greetedConn struct {
	net.Conn
	r io.Reader
}

func (c *greetedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (d *Dialer) address(host string) string {
	host = strings.TrimSuffix(host, ".")
	if h, p, err := net.SplitHostPort(host); err == nil {
		return net.JoinHostPort(h, p)
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(d.port))
}

// session adapts *smtp.Client to core.SMTPSession
type session struct {
	client   *smtp.Client
	addr     string
	heloName string
	stop     func() bool

	closeOnce sync.Once
	closeErr  error
}

var okReply = core.Reply{Code: 250, Text: "OK"}

// reply splits a go-smtp error into a protocol reply or a transport failure
func reply(err error) (core.Reply, error) {
	if err == nil {
		return okReply, nil
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return core.Reply{Code: smtpErr.Code, Text: smtpErr.Message}, nil
	}
	return core.Reply{}, err
}

func (s *session) Helo(ctx context.Context) (core.Reply, error) {
	if err := ctx.Err(); err != nil {
		return core.Reply{}, err
	}
	return reply(s.client.Hello(s.heloName))
}

func (s *session) Mail(ctx context.Context, from string) (core.Reply, error) {
	if err := ctx.Err(); err != nil {
		return core.Reply{}, err
	}
	return reply(s.client.Mail(from, nil))
}

func (s *session) Rcpt(ctx context.Context, to string) (core.Reply, error) {
	if err := ctx.Err(); err != nil {
		return core.Reply{}, err
	}
	return reply(s.client.Rcpt(to, nil))
}

func (s *session) Rset(ctx context.Context) (core.Reply, error) {
	return reply(s.client.Reset())
}

// Quit sends QUIT; the connection is closed afterwards either way
func (s *session) Quit() error {
	err := s.client.Quit()
	s.Close()
	return err
}

// Close closes the connection; it is safe to call more than once
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.stop()
		if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
