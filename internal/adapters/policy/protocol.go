// Package policy implements the front ends that feed requests to the check
// service: the Postfix policy delegation server and a command-line runner.
//
// The Postfix protocol is line based. A request is a block of name=value
// lines terminated by an empty line; the reply is a single action=... line
// followed by an empty line. A connection may carry many requests.
package policy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mikey/mail-policy/internal/core"
)

const (
	maxLineLength = 64 * 1024
	maxAttributes = 1024
)

// ErrMalformed is returned for lines that are not name=value attributes
var ErrMalformed = errors.New("malformed policy request")

// NewScanner returns a line scanner sized for policy requests
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineLength)
	return sc
}

// ReadRequest reads one attribute block. It returns io.EOF when the input
// ends between requests and io.ErrUnexpectedEOF, along with the attributes
// read so far, when it ends inside one.
func ReadRequest(sc *bufio.Scanner) (core.Request, error) {
	req := make(core.Request)
	lines := 0
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			if lines == 0 {
				// stray empty lines between requests
				continue
			}
			return req, nil
		}
		lines++
		if lines > maxAttributes {
			return nil, fmt.Errorf("%w: too many attributes", ErrMalformed)
		}

		name, value, ok := strings.Cut(line, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
		}
		req[name] = value
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if lines > 0 {
		return req, io.ErrUnexpectedEOF
	}
	return nil, io.EOF
}

// FormatAction renders the check results as a policy action. The scores are
// prepended as a header for the downstream aggregator.
func FormatAction(header string, results []core.CheckResult) string {
	if len(results) == 0 {
		return "DUNNO"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%s=%d", r.Check, r.Verdict.Score)
	}
	return fmt.Sprintf("PREPEND %s: %s", header, strings.Join(parts, "; "))
}

// WriteResponse writes one reply block
func WriteResponse(w io.Writer, action string) error {
	_, err := fmt.Fprintf(w, "action=%s\n\n", action)
	return err
}
