package policy

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCLIRun(t *testing.T) {
	var out bytes.Buffer
	cli := NewCLI(newService(&staticCheck{name: "verify"}, &staticCheck{name: "dnsbl"}), zap.NewNop(), &out, false)

	// the terminating empty line is optional
	results, err := cli.Run(context.Background(), strings.NewReader("sender=alice@example.com\nclient_address=192.0.2.1"), "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	text := out.String()
	assert.Contains(t, text, "=== Results ===")
	assert.Contains(t, text, "verify                 11  verify example.com\n")
	assert.Contains(t, text, "action=PREPEND X-Policy-Checks: verify=11; dnsbl=11\n")
}

func TestCLIRunSingleCheck(t *testing.T) {
	var out bytes.Buffer
	cli := NewCLI(newService(&staticCheck{name: "verify"}, &staticCheck{name: "dnsbl"}), zap.NewNop(), &out, true)

	results, err := cli.Run(context.Background(), strings.NewReader("sender=alice@example.com\n\n"), "dnsbl")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "dnsbl", results[0].Check)
	assert.Contains(t, out.String(), "=== Request ===\nsender: alice@example.com\n")

	_, err = cli.Run(context.Background(), strings.NewReader("sender=alice@example.com\n\n"), "missing")
	assert.Error(t, err)
}

func TestCLIRunErrors(t *testing.T) {
	cli := NewCLI(newService(), zap.NewNop(), &bytes.Buffer{}, false)

	_, err := cli.Run(context.Background(), strings.NewReader("\n\n"), "")
	assert.ErrorContains(t, err, "no request attributes")

	_, err = cli.Run(context.Background(), strings.NewReader("garbage\n"), "")
	assert.ErrorIs(t, err, ErrMalformed)

	assert.NoError(t, cli.Start())
	assert.NoError(t, cli.Stop())
}
