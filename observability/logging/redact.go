package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets such as one-time codes and biometric samples.
const RedactedValue = "[REDACTED]"

const fingerprintPrefix = "fp:"

// Keys logged as-is. Matching ignores case.
var plainKeys = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"position":   {},
	"hash":       {},
	"step":       {},
	"status":     {},
	"event":      {},
	"difficulty": {},
}

// Identifier keys are replaced with a fingerprint so lines about the same
// voter can be correlated without exposing the identifier.
var identifierKeys = map[string]struct{}{
	"userid":     {},
	"voterid":    {},
	"sessionid":  {},
	"deliveryid": {},
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// IsPlain reports whether key is emitted without masking.
func IsPlain(key string) bool {
	_, ok := plainKeys[normalizeKey(key)]
	return ok
}

// Fingerprint returns a short stable digest of value.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fingerprintPrefix + hex.EncodeToString(sum[:4])
}

// MaskValue redacts non-empty values. Blank values pass through.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds the attribute for key. Plain keys keep their value,
// identifier keys are fingerprinted and everything else is redacted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsPlain(key) {
		return slog.String(key, value)
	}
	if _, ok := identifierKeys[normalizeKey(key)]; ok {
		return slog.String(key, Fingerprint(value))
	}
	return slog.String(key, RedactedValue)
}
