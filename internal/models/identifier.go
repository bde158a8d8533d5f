package models

import (
	"regexp"
	"strings"
)

// Pair identifiers are EVM pair contract addresses: 0x followed by 40 hex
// characters.
var pairAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidIdentifier reports whether s is a well-formed pair address
func ValidIdentifier(s string) bool {
	return pairAddressPattern.MatchString(s)
}

// NormalizeIdentifier lowercases a pair address so that case variants of the
// same address share one subscription and one cache entry
func NormalizeIdentifier(s string) string {
	return strings.ToLower(s)
}
