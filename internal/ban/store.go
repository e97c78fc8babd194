package ban

import (
	"context"

	"github.com/flowguard/flowguard/internal/flowtype"
)

// History is the prior-ban bookkeeping the backoff calculation reads
// (spec §4.D step 2: "read prior ban history for target").
type History struct {
	BanTimes uint32
}

// Store is the persistence seam for BanRecords, grounded on the teacher's
// pkg/store token-store interface shape (Store/Get/Delete + background
// cleanup) but keyed on flowtype.BanTarget and shaped around the spec's
// own CRUD verbs. Concrete backends (memory, Redis, Postgres) satisfy this
// in internal/storage.
type Store interface {
	Save(ctx context.Context, record flowtype.BanRecord) error
	// IsBanned returns the active record for target, or (nil, nil) if
	// absent/expired. Expired records are treated as absent (spec §4.D).
	IsBanned(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanRecord, error)
	Remove(ctx context.Context, target flowtype.BanTarget) error
	History(ctx context.Context, target flowtype.BanTarget) (*History, error)
	// PurgeExpired removes all expired records and reports how many were
	// removed, for the auto-unban sweep (spec §4.D).
	PurgeExpired(ctx context.Context) (int, error)
}
