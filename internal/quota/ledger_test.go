package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"arcana/internal/types"
)

// fakeProfileStore mirrors the conditional-update semantics of the real
// repository under a mutex so concurrent debits stay linearizable.
type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*types.Profile
	getErr   error
	debitErr error
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*types.Profile)}
}

func (s *fakeProfileStore) Get(_ context.Context, userID string) (*types.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeProfileStore) EnsureExists(_ context.Context, userID string, freeDailyLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[userID]; !ok {
		s.profiles[userID] = &types.Profile{
			UserID:     userID,
			Plan:       types.PlanFree,
			DailyLimit: freeDailyLimit,
		}
	}
	return nil
}

func (s *fakeProfileStore) DebitIfAvailable(_ context.Context, userID string, today types.Day) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debitErr != nil {
		return false, s.debitErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		return false, nil
	}
	used := p.UsedToday
	if p.LastUsedDate != today {
		used = 0
	}
	if used >= p.DailyLimit {
		return false, nil
	}
	p.UsedToday = used + 1
	p.LastUsedDate = today
	return true, nil
}

type anonKey struct {
	id  string
	day types.Day
}

type fakeAnonStore struct {
	mu       sync.Mutex
	counts   map[anonKey]int
	debitErr error
	countErr error
}

func newFakeAnonStore() *fakeAnonStore {
	return &fakeAnonStore{counts: make(map[anonKey]int)}
}

func (s *fakeAnonStore) DebitIfBelow(_ context.Context, anonymousID string, day types.Day, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debitErr != nil {
		return false, s.debitErr
	}
	if limit <= 0 {
		return false, nil
	}
	k := anonKey{id: anonymousID, day: day}
	if s.counts[k] >= limit {
		return false, nil
	}
	s.counts[k]++
	return true, nil
}

func (s *fakeAnonStore) CountForDay(_ context.Context, anonymousID string, day types.Day) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.counts[anonKey{id: anonymousID, day: day}], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestLedger(profiles ProfileStore, usage AnonymousStore) *Ledger {
	return NewLedger(profiles, usage, Config{AnonDailyLimit: 5, FreeDailyLimit: 10}, nil).
		WithClock(fixedClock(testNow))
}

func TestCheckAndDebit_AnonymousLimit(t *testing.T) {
	usage := newFakeAnonStore()
	ledger := newTestLedger(newFakeProfileStore(), usage)
	id := types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90")

	for i := 0; i < 5; i++ {
		admitted, err := ledger.CheckAndDebit(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, admitted, "request %d should be admitted", i+1)
	}

	admitted, err := ledger.CheckAndDebit(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, admitted, "sixth request should be rejected")

	used, err := ledger.Remaining(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestCheckAndDebit_AccountCreatesFreeProfile(t *testing.T) {
	profiles := newFakeProfileStore()
	ledger := newTestLedger(profiles, newFakeAnonStore())
	id := types.AccountIdentity("user-1")

	admitted, err := ledger.CheckAndDebit(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, admitted)

	p, err := profiles.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, p.Plan)
	assert.Equal(t, 10, p.DailyLimit)
	assert.Equal(t, 1, p.UsedToday)
}

func TestCheckAndDebit_AccountRollover(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.profiles["user-1"] = &types.Profile{
		UserID:       "user-1",
		Plan:         types.PlanFree,
		DailyLimit:   10,
		UsedToday:    10,
		LastUsedDate: types.Day("2026-08-30"),
	}
	ledger := newTestLedger(profiles, newFakeAnonStore())

	admitted, err := ledger.CheckAndDebit(context.Background(), types.AccountIdentity("user-1"))
	require.NoError(t, err)
	assert.True(t, admitted, "exhausted yesterday must not block today")

	p, _ := profiles.Get(context.Background(), "user-1")
	assert.Equal(t, 1, p.UsedToday)
	assert.Equal(t, types.DayOf(testNow), p.LastUsedDate)
}

func TestCheckAndDebit_FailsOpenOnStoreError(t *testing.T) {
	usage := newFakeAnonStore()
	usage.debitErr = errors.New("connection refused")
	profiles := newFakeProfileStore()
	profiles.debitErr = errors.New("connection refused")
	ledger := newTestLedger(profiles, usage)

	admitted, err := ledger.CheckAndDebit(context.Background(), types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90"))
	require.NoError(t, err)
	assert.True(t, admitted, "store outage must not reject requests")

	admitted, err = ledger.CheckAndDebit(context.Background(), types.AccountIdentity("user-1"))
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestSnapshot_Anonymous(t *testing.T) {
	usage := newFakeAnonStore()
	ledger := newTestLedger(newFakeProfileStore(), usage)
	id := types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90")

	for i := 0; i < 3; i++ {
		_, err := ledger.CheckAndDebit(context.Background(), id)
		require.NoError(t, err)
	}

	snap, err := ledger.Snapshot(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, snap.Anonymous)
	assert.Equal(t, types.PlanFree, snap.Plan)
	assert.Equal(t, 5, snap.DailyLimit)
	assert.Equal(t, 3, snap.UsedToday)
	assert.Equal(t, 2, snap.Remaining)
}

func TestSnapshot_AccountNormalizesStaleDay(t *testing.T) {
	profiles := newFakeProfileStore()
	expires := testNow.Add(72 * time.Hour)
	profiles.profiles["user-1"] = &types.Profile{
		UserID:       "user-1",
		Plan:         "sub_7d",
		DailyLimit:   100,
		UsedToday:    42,
		LastUsedDate: types.Day("2026-08-29"),
		SubExpiresAt: &expires,
	}
	ledger := newTestLedger(profiles, newFakeAnonStore())

	snap, err := ledger.Snapshot(context.Background(), types.AccountIdentity("user-1"))
	require.NoError(t, err)
	assert.False(t, snap.Anonymous)
	assert.Equal(t, "sub_7d", snap.Plan)
	assert.Equal(t, 100, snap.DailyLimit)
	assert.Equal(t, 0, snap.UsedToday, "stale counter reads as zero today")
	assert.Equal(t, 100, snap.Remaining)
	require.NotNil(t, snap.SubExpiresAt)
	assert.Equal(t, expires, *snap.SubExpiresAt)
}

func TestSnapshot_DegradedWhenProfileUnreadable(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.getErr = errors.New("connection refused")
	ledger := newTestLedger(profiles, newFakeAnonStore())

	snap, err := ledger.Snapshot(context.Background(), types.AccountIdentity("user-1"))
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, snap.Plan)
	assert.Equal(t, 10, snap.DailyLimit)
	assert.Equal(t, 10, snap.Remaining)
}

func TestCheckAndDebit_ConcurrentAdmitsExactlyLimit(t *testing.T) {
	const workers = 20

	usage := newFakeAnonStore()
	ledger := newTestLedger(newFakeProfileStore(), usage)
	id := types.AnonymousIdentity("2a7f4c10-9c1d-4b7e-9f3a-6d2e8b1c5a90")

	var mu sync.Mutex
	admittedCount := 0

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			admitted, err := ledger.CheckAndDebit(ctx, id)
			if err != nil {
				return err
			}
			if admitted {
				mu.Lock()
				admittedCount++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 5, admittedCount, "concurrent debits must admit exactly the daily limit")
}
