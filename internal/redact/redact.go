// Package redact implements the PII-redaction rules from spec §7: identifier
// values are redacted by default before they reach a log line.
package redact

import "strings"

// Identifier redacts a generic identifier value: first/last two characters
// are kept, the middle is elided with "...". Short values are fully masked.
func Identifier(value string) string {
	n := len(value)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	return value[:2] + "..." + value[n-2:]
}

// IP redacts an address keeping only the top two octets (v4) or top two
// hextets (v6); the rest is elided.
func IP(addr string) string {
	if strings.Contains(addr, ":") {
		parts := strings.Split(addr, ":")
		if len(parts) <= 2 {
			return strings.Join(parts, ":") + "::*"
		}
		return strings.Join(parts[:2], ":") + "::*"
	}
	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return Identifier(addr)
	}
	return parts[0] + "." + parts[1] + ".*.*"
}
