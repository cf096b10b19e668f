package core

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Request fields understood by the checks
const (
	FieldClientAddress     = "client_address"
	FieldClientName        = "client_name"
	FieldReverseClientName = "reverse_client_name"
	FieldSender            = "sender"
	FieldRecipient         = "recipient"
)

// KnownFields lists the fields a fingerprint may be derived from
var KnownFields = []string{
	FieldClientAddress,
	FieldClientName,
	FieldReverseClientName,
	FieldSender,
	FieldRecipient,
}

// IsAddressField reports whether only the domain of the field matters
func IsAddressField(field string) bool {
	return field == FieldSender || field == FieldRecipient
}

// DomainOf returns the part after the last '@', or "" without one
func DomainOf(address string) string {
	i := strings.LastIndexByte(address, '@')
	if i < 0 {
		return ""
	}
	return address[i+1:]
}

// FieldValue returns the value of field as used for fingerprints and lookups
func FieldValue(req Request, field string) string {
	val := req.Get(field)
	if IsAddressField(field) {
		return DomainOf(val)
	}
	return val
}

// DeriveFingerprint builds the cache key of a request from the given fields
func DeriveFingerprint(req Request, fields []string) string {
	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		lines = append(lines, field+"="+FieldValue(req, field))
	}
	return HashKey(strings.Join(lines, "\n"))
}

// HashKey hashes an arbitrary canonical string into a cache key
func HashKey(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}

// ValidateFields splits fields into those present in known and the rest
func ValidateFields(fields, known []string) (kept, dropped []string) {
	allowed := make(map[string]struct{}, len(known))
	for _, k := range known {
		allowed[k] = struct{}{}
	}
	for _, f := range fields {
		if _, ok := allowed[f]; ok {
			kept = append(kept, f)
		} else {
			dropped = append(dropped, f)
		}
	}
	return kept, dropped
}
