package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldValue(t *testing.T) {
	req := Request{
		FieldClientAddress: "192.0.2.1",
		FieldSender:        "alice@example.com",
		FieldRecipient:     "no-at-sign",
	}

	assert.Equal(t, "192.0.2.1", FieldValue(req, FieldClientAddress))
	assert.Equal(t, "example.com", FieldValue(req, FieldSender))
	assert.Equal(t, "", FieldValue(req, FieldRecipient))
	assert.Equal(t, "", FieldValue(req, FieldClientName))
}

func TestDomainOfUsesLastAt(t *testing.T) {
	assert.Equal(t, "example.org", DomainOf(`"a@b"@example.org`))
	assert.Equal(t, "", DomainOf("postmaster"))
}

func TestDeriveFingerprint(t *testing.T) {
	fields := []string{FieldClientAddress, FieldSender}

	a := DeriveFingerprint(Request{FieldClientAddress: "192.0.2.1", FieldSender: "alice@example.com"}, fields)
	b := DeriveFingerprint(Request{FieldClientAddress: "192.0.2.1", FieldSender: "bob@example.com"}, fields)
	c := DeriveFingerprint(Request{FieldClientAddress: "192.0.2.1", FieldSender: "bob@example.net"}, fields)

	// only the domain of an address field matters
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// unrelated fields are ignored
	d := DeriveFingerprint(Request{
		FieldClientAddress: "192.0.2.1",
		FieldSender:        "alice@example.com",
		FieldRecipient:     "x@y.z",
	}, fields)
	assert.Equal(t, a, d)

	// field order is part of the fingerprint
	e := DeriveFingerprint(Request{FieldClientAddress: "192.0.2.1", FieldSender: "alice@example.com"},
		[]string{FieldSender, FieldClientAddress})
	assert.NotEqual(t, a, e)
}

func TestValidateFields(t *testing.T) {
	kept, dropped := ValidateFields([]string{"sender", "helo_name", "client_address"}, KnownFields)
	assert.Equal(t, []string{"sender", "client_address"}, kept)
	assert.Equal(t, []string{"helo_name"}, dropped)
}
