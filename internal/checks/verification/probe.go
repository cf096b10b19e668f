package verification

import (
	"context"
	"fmt"

	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// probeMailhosts tries the mailhosts in order until one gives a conclusive
// answer. A domain with a single mailhost gets a second attempt on it.
func (v *Verifier) probeMailhosts(ctx context.Context, mailhosts []string, user, domain string) (core.Outcome, string) {
	candidates := mailhosts
	if len(candidates) == 1 {
		candidates = []string{mailhosts[0], mailhosts[0]}
	}
	if len(candidates) > maxMailhosts {
		candidates = candidates[:maxMailhosts]
	}

	detail := fmt.Sprintf("no mailhost for %s answered", domain)
	for _, host := range candidates {
		if ctx.Err() != nil {
			break
		}
		outcome, text := v.probe(ctx, host, user, domain)
		detail = text
		if outcome != core.Indeterminate {
			return outcome, text
		}
	}
	return core.Indeterminate, detail
}

// probe runs one SMTP dialogue. Without a user only the connection and the
// 220 greeting are verified. A refused greeting, 4xx replies and transport
// errors are indeterminate, 5xx replies to our commands are a conclusive
// failure.
func (v *Verifier) probe(ctx context.Context, host, user, domain string) (core.Outcome, string) {
	logger := v.logger.With(zap.String("mailhost", host), zap.String("domain", domain))

	sess, err := v.dialer.Dial(ctx, host, v.timeout)
	if err != nil {
		logger.Info("Connection to mailhost failed", zap.Error(err))
		return core.Indeterminate, fmt.Sprintf("connection to %s failed: %v", host, err)
	}
	defer sess.Close()

	if user == "" {
		// the outcome is settled; Close runs even when QUIT fails
		_ = sess.Quit()
		return core.Success, fmt.Sprintf("connection to mailhost %s succeeded", host)
	}

	rcpt := user + "@" + domain
	steps := []struct {
		cmd string
		run func() (core.Reply, error)
	}{
		{"HELO", func() (core.Reply, error) { return sess.Helo(ctx) }},
		{"MAIL FROM", func() (core.Reply, error) { return sess.Mail(ctx, "postmaster@"+v.localDomain) }},
		{"RCPT TO", func() (core.Reply, error) { return sess.Rcpt(ctx, rcpt) }},
	}

	for _, step := range steps {
		reply, err := step.run()
		if err != nil {
			logger.Info("SMTP dialogue failed", zap.String("command", step.cmd), zap.Error(err))
			return core.Indeterminate, fmt.Sprintf("SMTP communication with %s failed at %s: %v", host, step.cmd, err)
		}
		logger.Debug("SMTP reply",
			zap.String("command", step.cmd),
			zap.Int("code", reply.Code),
			zap.String("text", reply.Text))

		// QUIT only ends the session here, its reply is not needed
		switch {
		case reply.Code >= 500:
			_ = sess.Quit()
			return core.Failure, fmt.Sprintf("verification of %s failed on %s with %d %s", rcpt, host, reply.Code, reply.Text)
		case reply.Code >= 400:
			_ = sess.Quit()
			return core.Indeterminate, fmt.Sprintf("verification of %s deferred on %s with %d %s", rcpt, host, reply.Code, reply.Text)
		}
	}

	// the RCPT reply already decided; RSET and QUIT only tidy up
	_, _ = sess.Rset(ctx)
	_ = sess.Quit()

	return core.Success, fmt.Sprintf("verification of %s succeeded on %s", rcpt, host)
}
