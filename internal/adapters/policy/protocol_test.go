package policy

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/mikey/mail-policy/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest(t *testing.T) {
	input := "\n" +
		"request=smtpd_access_policy\r\n" +
		"protocol_state=RCPT\n" +
		"sender=alice@example.com\n" +
		"recipient=\n" +
		"ccert_subject=CN=mail.example.com\n" +
		"\n" +
		"client_address=192.0.2.1\n" +
		"\n"
	sc := NewScanner(strings.NewReader(input))

	req, err := ReadRequest(sc)
	require.NoError(t, err)
	assert.Equal(t, core.Request{
		"request":        "smtpd_access_policy",
		"protocol_state": "RCPT",
		"sender":         "alice@example.com",
		"recipient":      "",
		"ccert_subject":  "CN=mail.example.com",
	}, req)

	req, err = ReadRequest(sc)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", req.Get(core.FieldClientAddress))

	_, err = ReadRequest(sc)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadRequestTruncated(t *testing.T) {
	req, err := ReadRequest(NewScanner(strings.NewReader("sender=a@example.com\nrecipient=b@example.com")))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "b@example.com", req.Get(core.FieldRecipient))
}

func TestReadRequestMalformed(t *testing.T) {
	for _, input := range []string{"sender\n\n", "=value\n\n"} {
		_, err := ReadRequest(NewScanner(strings.NewReader(input)))
		assert.ErrorIs(t, err, ErrMalformed, input)
	}

	_, err := ReadRequest(NewScanner(strings.NewReader(strings.Repeat("a=b\n", maxAttributes+1))))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadRequest(NewScanner(strings.NewReader("a=" + strings.Repeat("x", maxLineLength+1) + "\n\n")))
	assert.Error(t, err)
}

func TestFormatAction(t *testing.T) {
	assert.Equal(t, "DUNNO", FormatAction("X-Policy-Checks", nil))

	results := []core.CheckResult{
		{Check: "verify", Verdict: core.Verdict{Score: 5}},
		{Check: "dnsbl", Verdict: core.Verdict{Score: -2}},
		{Check: "dump", Verdict: core.Verdict{Score: 0}},
	}
	assert.Equal(t, "PREPEND X-Policy-Checks: verify=5; dnsbl=-2; dump=0", FormatAction("X-Policy-Checks", results))
}

func TestWriteResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, "DUNNO"))
	assert.Equal(t, "action=DUNNO\n\n", buf.String())
}
