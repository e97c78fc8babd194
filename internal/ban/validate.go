package ban

import (
	"net"
	"strings"
	"unicode"

	"github.com/flowguard/flowguard/internal/flowerr"
	"github.com/flowguard/flowguard/internal/flowtype"
)

func validationErr(message string, field string, value string) error {
	return flowerr.New(flowerr.Validation, message).
		WithComponent(flowerr.ComponentBan).WithField(field, value)
}

func hasControlChar(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// validateIP implements spec §4.D: parseable as v4 or v6, length ≤ 45.
func validateIP(ip string) error {
	if ip == "" {
		return validationErr("ip must not be empty", "ip", ip)
	}
	if len(ip) > flowtype.MaxIPLen {
		return validationErr("ip exceeds maximum length", "ip", ip)
	}
	if net.ParseIP(ip) == nil {
		return validationErr("ip is not a valid v4 or v6 address", "ip", ip)
	}
	return nil
}

// validateUserID implements spec §4.D: non-empty, length ≤ 100, no control
// characters.
func validateUserID(userID string) error {
	if userID == "" {
		return validationErr("user_id must not be empty", "user_id", userID)
	}
	if len(userID) > flowtype.MaxUserIDLen {
		return validationErr("user_id exceeds maximum length", "user_id", userID)
	}
	if hasControlChar(userID) {
		return validationErr("user_id contains control characters", "user_id", userID)
	}
	return nil
}

// validateMac implements spec §4.D: exactly six colon-separated hex pairs,
// length ≤ 17.
func validateMac(mac string) error {
	if mac == "" {
		return validationErr("mac must not be empty", "mac", mac)
	}
	if len(mac) > flowtype.MaxMacLen {
		return validationErr("mac exceeds maximum length", "mac", mac)
	}
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return validationErr("mac must have six colon-separated pairs", "mac", mac)
	}
	for _, p := range parts {
		if len(p) != 2 || !isHexPair(p) {
			return validationErr("mac contains an invalid hex pair", "mac", mac)
		}
	}
	return nil
}

func isHexPair(s string) bool {
	for _, r := range s {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}

// validateTarget dispatches to the per-kind validator (spec §4.D).
func validateTarget(t flowtype.BanTarget) error {
	switch t.Kind {
	case flowtype.BanTargetIP:
		return validateIP(t.Value)
	case flowtype.BanTargetUserID:
		return validateUserID(t.Value)
	case flowtype.BanTargetMac:
		return validateMac(t.Value)
	default:
		return validationErr("unknown ban target kind", "target_kind", t.Kind.String())
	}
}

// validateReason implements spec §4.D: non-empty, length ≤ 500, no control
// characters.
func validateReason(reason string) error {
	if reason == "" {
		return validationErr("reason must not be empty", "reason", "")
	}
	if len(reason) > flowtype.MaxBanReasonLen {
		return validationErr("reason exceeds maximum length", "reason", "")
	}
	if hasControlChar(reason) {
		return validationErr("reason contains control characters", "reason", "")
	}
	return nil
}
