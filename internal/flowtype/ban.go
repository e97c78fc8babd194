package flowtype

import "time"

// BanTargetKind is the tagged kind of a BanTarget. Priority is fixed at the
// type level: Ip > UserId > Mac (spec §3). DeviceId/ApiKey priority tiers
// are reserved (see spec §9's open question and SPEC_FULL.md §12) but are
// not valid BanTarget kinds; extending the enum to them is future work, not
// something this implementation does out of band.
type BanTargetKind int

const (
	BanTargetIP BanTargetKind = iota
	BanTargetUserID
	BanTargetMac
)

// Priority returns the fixed type-level priority; lower is higher priority.
func (k BanTargetKind) Priority() int { return int(k) }

func (k BanTargetKind) String() string {
	switch k {
	case BanTargetIP:
		return "ip"
	case BanTargetUserID:
		return "user_id"
	case BanTargetMac:
		return "mac"
	default:
		return "unknown"
	}
}

// BanTarget is a tagged value among {Ip, UserId, Mac}.
type BanTarget struct {
	Kind  BanTargetKind
	Value string
}

// Key returns a canonical string for use as a ban-store key.
func (t BanTarget) Key() string { return t.Kind.String() + ":" + t.Value }

// BanSource distinguishes an operator-initiated ban from an automatic one.
type BanSource struct {
	Manual   bool
	Operator string // meaningful only when Manual
}

// BanRecord is the durable, storage-layer representation of a ban (spec §3).
// Invariant: ExpiresAt = BannedAt + Duration.
type BanRecord struct {
	Target    BanTarget
	BanTimes  uint32
	Duration  time.Duration
	BannedAt  time.Time
	ExpiresAt time.Time
	IsManual  bool
	Reason    string
}

// Active reports whether the record is still in effect at the given time.
func (r BanRecord) Active(now time.Time) bool { return now.Before(r.ExpiresAt) }

// BanDetail is a BanRecord enriched with audit/identity fields (spec §3).
// One active BanDetail exists per target at a time; creating a new ban for
// the same target supersedes the previous one.
type BanDetail struct {
	BanRecord
	ID         string
	Source     BanSource
	Metadata   map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UnbannedAt *time.Time
	UnbannedBy string
}

// Bounds from spec §4.D / SPEC_FULL.md §12.
const (
	MaxUserIDLen    = 100
	MaxMacLen       = 17
	MaxIPLen        = 45
	MaxBanReasonLen = 500
)

// Backoff schedule constants, pinned from original_source/src/ban_manager.rs
// (SPEC_FULL.md §12).
const (
	FirstBanDuration  = 60 * time.Second
	SecondBanDuration = 300 * time.Second
	ThirdBanDuration  = 1800 * time.Second
	FourthBanDuration = 7200 * time.Second
	MaxBanDuration    = 86400 * time.Second
)
