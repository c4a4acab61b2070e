// Package redact strips sensitive values from strings before they leave the
// process boundary.
//
// # Threat model
//
// Secrets (the completion API key, store connection strings with embedded
// credentials) must never appear in:
//   - Log lines emitted by the service
//   - Audit event detail fields
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms. It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import (
	"strings"
)

// Placeholder is what sensitive values are replaced with.
const Placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with the
// placeholder. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(detail, apiKey, storeDSN)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// Error renders err through String, tolerating nil. Convenient for audit
// detail fields built from wrapped store/provider errors.
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}
