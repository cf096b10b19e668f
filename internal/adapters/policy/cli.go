package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
)

// CLI evaluates one request read from a stream and prints the verdicts
type CLI struct {
	service *core.CheckService
	logger  *zap.Logger
	out     io.Writer
	verbose bool
}

// NewCLI creates a new command-line front end
func NewCLI(service *core.CheckService, logger *zap.Logger, out io.Writer, verbose bool) *CLI {
	return &CLI{
		service: service,
		logger:  logger,
		out:     out,
		verbose: verbose,
	}
}

// Evaluate runs every check against the request
func (c *CLI) Evaluate(ctx context.Context, req core.Request) ([]core.CheckResult, error) {
	return c.service.CheckAll(ctx, req), nil
}

// Run reads one request block from r and evaluates it, or only the named
// check when name is not empty
func (c *CLI) Run(ctx context.Context, r io.Reader, name string) ([]core.CheckResult, error) {
	// a block without the terminating empty line is still a request here
	req, err := ReadRequest(NewScanner(r))
	switch {
	case errors.Is(err, io.EOF):
		return nil, fmt.Errorf("no request attributes on input")
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	c.logger.Debug("Evaluating request", zap.Int("attributes", len(req)))

	if c.verbose {
		fmt.Fprintf(c.out, "\n=== Request ===\n")
		for _, f := range core.KnownFields {
			if v, ok := req[f]; ok {
				fmt.Fprintf(c.out, "%s: %s\n", f, v)
			}
		}
	}

	start := time.Now()
	var results []core.CheckResult
	if name != "" {
		res, err := c.service.Check(ctx, name, req)
		if err != nil {
			return nil, err
		}
		results = []core.CheckResult{res}
	} else {
		results, _ = c.Evaluate(ctx, req)
	}

	fmt.Fprintf(c.out, "\n=== Results ===\n")
	for _, res := range results {
		fmt.Fprintf(c.out, "%-20s %4d  %s", res.Check, res.Verdict.Score, res.Verdict.Explanation)
		if res.Cached {
			fmt.Fprintf(c.out, " (cached)")
		}
		if c.verbose {
			fmt.Fprintf(c.out, " [%v]", res.Duration)
		}
		fmt.Fprintln(c.out)
	}
	fmt.Fprintf(c.out, "\naction=%s\n", FormatAction("X-Policy-Checks", results))
	if c.verbose {
		fmt.Fprintf(c.out, "Processing time: %v\n", time.Since(start))
	}

	return results, nil
}

// Start is a no-op for the CLI
func (c *CLI) Start() error {
	return nil
}

// Stop is a no-op for the CLI
func (c *CLI) Stop() error {
	return nil
}
