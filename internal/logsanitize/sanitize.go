// Package logsanitize provides helpers for sanitizing untrusted values before logging.
package logsanitize

import "strings"

// Sanitize removes control characters from log field values to reduce
// the risk of log injection (CWE-117).
//
// Stripped ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
}

// visibleSuffix is how many trailing characters of a BOID stay readable.
const visibleSuffix = 4

// MaskBOID hides all but the last four characters of an account identifier
// so logs can correlate requests without carrying full BOIDs.
func MaskBOID(boid string) string {
	boid = Sanitize(boid)
	r := []rune(boid)
	if len(r) <= visibleSuffix {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-visibleSuffix) + string(r[len(r)-visibleSuffix:])
}

// MaskBOIDs masks every identifier in ids.
func MaskBOIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = MaskBOID(id)
	}
	return out
}
