// Package flowtype holds the shared data model of the governance core:
// Identifier, RequestContext, Rule, LimiterConfig, BanTarget/BanRecord/
// BanDetail and QuotaState, as described in spec §3.
package flowtype

import "fmt"

// IdentifierTag names the kind of identifier carried by an Identifier.
type IdentifierTag string

const (
	TagUserID   IdentifierTag = "user_id"
	TagIP       IdentifierTag = "ip"
	TagMac      IdentifierTag = "mac"
	TagDeviceID IdentifierTag = "device_id"
	TagAPIKey   IdentifierTag = "api_key"
)

// MaxIdentifierValueLen bounds the value carried by an Identifier.
const MaxIdentifierValueLen = 256

// Identifier is a tagged, immutable key derived from a request, used to
// scope admission decisions. Equality and hashing derive from (tag, value).
type Identifier struct {
	tag   IdentifierTag
	value string
}

// NewIdentifier constructs an Identifier, truncating value defensively to
// MaxIdentifierValueLen (callers should validate length themselves where the
// spec calls for a hard rejection instead of truncation, e.g. ban targets).
func NewIdentifier(tag IdentifierTag, value string) Identifier {
	if len(value) > MaxIdentifierValueLen {
		value = value[:MaxIdentifierValueLen]
	}
	return Identifier{tag: tag, value: value}
}

// Tag returns the identifier's kind.
func (i Identifier) Tag() IdentifierTag { return i.tag }

// Value returns the identifier's raw value.
func (i Identifier) Value() string { return i.value }

// Key returns a canonical string combining tag and value, suitable for use
// as a limiter/cache key.
func (i Identifier) Key() string { return fmt.Sprintf("%s:%s", i.tag, i.value) }

// IsZero reports whether the identifier was never set.
func (i Identifier) IsZero() bool { return i.tag == "" && i.value == "" }
