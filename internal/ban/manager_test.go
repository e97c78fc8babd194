package ban

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowguard/flowguard/internal/flowtype"
)

// memStore is a minimal in-memory Store double mirroring the teacher's
// pkg/store.MemoryStore shape, used only by this package's tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]flowtype.BanRecord
	history map[string]uint32
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]flowtype.BanRecord),
		history: make(map[string]uint32),
	}
}

func (s *memStore) Save(ctx context.Context, record flowtype.BanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Target.Key()] = record
	s.history[record.Target.Key()] = record.BanTimes
	return nil
}

func (s *memStore) IsBanned(ctx context.Context, target flowtype.BanTarget) (*flowtype.BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[target.Key()]
	if !ok || !r.Active(time.Now()) {
		return nil, nil
	}
	return &r, nil
}

func (s *memStore) Remove(ctx context.Context, target flowtype.BanTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, target.Key())
	return nil
}

func (s *memStore) History(ctx context.Context, target flowtype.BanTarget) (*History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.history[target.Key()]
	if !ok {
		return nil, nil
	}
	return &History{BanTimes: n}, nil
}

func (s *memStore) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, r := range s.records {
		if !r.Active(time.Now()) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

func newTestManager(t *testing.T, store Store, now func() time.Time) *Manager {
	t.Helper()
	m := newManager(store, Config{}, nil, now)
	t.Cleanup(m.Stop)
	return m
}

func TestCreateBan_FirstOffenseUsesFirstTier(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, func() time.Time { return base })

	target := flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.1"}
	detail, err := m.CreateBan(context.Background(), target, "abuse", flowtype.BanSource{Manual: true, Operator: "alice"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), detail.BanTimes)
	assert.Equal(t, flowtype.FirstBanDuration, detail.Duration)
	assert.Equal(t, base.Add(flowtype.FirstBanDuration), detail.ExpiresAt)
	assert.NotEmpty(t, detail.ID)
}

func TestCreateBan_EscalatesThroughBackoffTiers(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, func() time.Time { return base })

	target := flowtype.BanTarget{Kind: flowtype.BanTargetUserID, Value: "u-1"}
	expected := []time.Duration{
		flowtype.FirstBanDuration,
		flowtype.SecondBanDuration,
		flowtype.ThirdBanDuration,
		flowtype.FourthBanDuration,
		flowtype.FourthBanDuration,
	}
	for i, want := range expected {
		detail, err := m.CreateBan(context.Background(), target, "repeat offense", flowtype.BanSource{}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, uint32(i+1), detail.BanTimes)
		assert.Equalf(t, want, detail.Duration, "ban #%d", i+1)
	}
}

func TestCreateBan_ExplicitDurationOverridesBackoff(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store, time.Now)

	target := flowtype.BanTarget{Kind: flowtype.BanTargetMac, Value: "aa:bb:cc:dd:ee:ff"}
	override := 5 * time.Minute
	detail, err := m.CreateBan(context.Background(), target, "manual override", flowtype.BanSource{Manual: true}, nil, &override)
	require.NoError(t, err)
	assert.Equal(t, override, detail.Duration)
}

func TestCreateBan_RejectsInvalidTarget(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store, time.Now)

	_, err := m.CreateBan(context.Background(), flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "not-an-ip"}, "reason", flowtype.BanSource{}, nil, nil)
	require.Error(t, err)
}

func TestCreateBan_RejectsEmptyReason(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store, time.Now)

	target := flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.2"}
	_, err := m.CreateBan(context.Background(), target, "", flowtype.BanSource{}, nil, nil)
	require.Error(t, err)
}

func TestReadBan_ExpiredRecordIsAbsent(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	target := flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.3"}
	require.NoError(t, store.Save(context.Background(), flowtype.BanRecord{
		Target:    target,
		BanTimes:  1,
		Duration:  time.Minute,
		BannedAt:  now.Add(-2 * time.Minute),
		ExpiresAt: now.Add(-time.Minute),
	}))

	m := newTestManager(t, store, time.Now)
	detail, err := m.ReadBan(context.Background(), target)
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestUpdateBan_NoOpWhenAbsent(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store, time.Now)

	reason := "updated"
	detail, err := m.UpdateBan(context.Background(), flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.4"}, &reason, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestUpdateBan_ExtendsDurationAndReason(t *testing.T) {
	store := newMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, store, func() time.Time { return base })

	target := flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.5"}
	_, err := m.CreateBan(context.Background(), target, "initial", flowtype.BanSource{}, nil, nil)
	require.NoError(t, err)

	newReason := "escalated"
	newDuration := 10 * time.Minute
	detail, err := m.UpdateBan(context.Background(), target, &newReason, &newDuration, map[string]string{"note": "escalated"})
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, newReason, detail.Reason)
	assert.Equal(t, newDuration, detail.Duration)
	assert.Equal(t, base.Add(newDuration), detail.ExpiresAt)
}

func TestDeleteBan_IdempotentWhenAbsent(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store, time.Now)

	ok, err := m.DeleteBan(context.Background(), flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.6"}, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteBan_RemovesActiveRecord(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store, time.Now)

	target := flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.7"}
	_, err := m.CreateBan(context.Background(), target, "initial", flowtype.BanSource{}, nil, nil)
	require.NoError(t, err)

	ok, err := m.DeleteBan(context.Background(), target, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	detail, err := m.ReadBan(context.Background(), target)
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestAutoUnbanLoop_PurgesExpiredRecords(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	target := flowtype.BanTarget{Kind: flowtype.BanTargetIP, Value: "10.0.0.8"}
	require.NoError(t, store.Save(context.Background(), flowtype.BanRecord{
		Target:    target,
		BanTimes:  1,
		Duration:  time.Millisecond,
		BannedAt:  now.Add(-time.Hour),
		ExpiresAt: now.Add(-time.Minute),
	}))

	m := newManager(store, Config{EnableAutoUnban: true, AutoUnbanInterval: 10 * time.Millisecond}, nil, time.Now)
	defer m.Stop()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		_, present := store.records[target.Key()]
		return !present
	}, time.Second, 5*time.Millisecond)
}
