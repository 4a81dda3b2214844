package entitlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store/sqlite"
)

// fakeProfiles is an in-memory ProfileSource with the same conditional
// downgrade contract as the sqlite store.
type fakeProfiles struct {
	mu         sync.Mutex
	profiles   map[string]domain.Profile
	getErr     error
	downErr    error
	downgrades int
}

func newFakeProfiles(ps ...domain.Profile) *fakeProfiles {
	f := &fakeProfiles{profiles: make(map[string]domain.Profile)}
	for _, p := range ps {
		f.profiles[p.UserID] = p
	}
	return f
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProfiles) DowngradeExpiredTrial(_ context.Context, userID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downErr != nil {
		return false, f.downErr
	}
	p, ok := f.profiles[userID]
	if !ok || !TrialExpired(&p, at) {
		return false, nil
	}
	p.IsTrialActive = false
	p.SubscriptionTier = domain.TierFree
	f.profiles[userID] = p
	f.downgrades++
	return true, nil
}

func (f *fakeProfiles) get(userID string) domain.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[userID]
}

func newTestEngine(src ProfileSource) *Engine {
	return NewEngine(DefaultPolicy(), src, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func expiredTrial(userID string) domain.Profile {
	return domain.Profile{
		UserID:         userID,
		IsTrialActive:  true,
		TrialUsed:      true,
		TrialStartedAt: at(-7 * 24 * time.Hour),
		TrialEndsAt:    at(-time.Minute),
	}
}

func TestCheckAccess_Decisions(t *testing.T) {
	tests := []struct {
		name    string
		profile domain.Profile
		want    Decision
	}{
		{"free", domain.Profile{UserID: "u"}, Decision{Reason: ReasonUpgradeRequired}},
		{"pro", domain.Profile{UserID: "u", SubscriptionTier: "pro"}, Decision{Allowed: true}},
		{"enterprise", domain.Profile{UserID: "u", SubscriptionTier: "Enterprise"}, Decision{Allowed: true}},
		{"explicit trial", domain.Profile{UserID: "u", IsTrialActive: true, TrialEndsAt: at(time.Hour)}, Decision{Allowed: true}},
		{"fallback trial", domain.Profile{UserID: "u", TrialUsed: true, TrialStartedAt: at(-time.Hour), TrialEndsAt: at(time.Hour)}, Decision{Allowed: true}},
		{"used trial long gone", domain.Profile{UserID: "u", TrialUsed: true, TrialStartedAt: at(-30 * 24 * time.Hour), TrialEndsAt: at(-23 * 24 * time.Hour)}, Decision{Reason: ReasonUpgradeRequired}},
		{"pro with stale trial flag", domain.Profile{UserID: "u", SubscriptionTier: "pro", IsTrialActive: true, TrialEndsAt: at(-time.Hour)}, Decision{Allowed: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeProfiles(tt.profile)
			e := newTestEngine(src)

			got := e.CheckAccess(context.Background(), &tt.profile, now)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, src.downgrades)
		})
	}
}

func TestCheckAccess_TrialPathsAreEquivalent(t *testing.T) {
	explicit := domain.Profile{UserID: "a", IsTrialActive: true, TrialEndsAt: at(time.Hour)}
	fallback := domain.Profile{UserID: "b", TrialUsed: true, TrialStartedAt: at(-time.Hour), TrialEndsAt: at(time.Hour)}
	e := newTestEngine(newFakeProfiles(explicit, fallback))

	assert.Equal(t, e.CheckAccess(context.Background(), &explicit, now), e.CheckAccess(context.Background(), &fallback, now))
	assert.True(t, e.CheckAccess(context.Background(), &fallback, now).Allowed)
}

func TestCheckAccess_QuotaIsNotAnAccessDecision(t *testing.T) {
	// A free profile with its quota spent: the status reports zero remaining,
	// while CheckAccess only looks at tier and trial.
	p := domain.Profile{UserID: "u", UsageCount: 30, UsageResetAt: now}
	e := newTestEngine(newFakeProfiles(p))

	status := e.ComputeStatus(&p, now)
	assert.Equal(t, 0, status.Remaining)
	assert.Equal(t, "0 left", status.Label)

	assert.Equal(t, Decision{Reason: ReasonUpgradeRequired}, e.CheckAccess(context.Background(), &p, now))

	// A trial profile with the same counter is allowed and unlimited.
	trial := domain.Profile{UserID: "t", UsageCount: 30, UsageResetAt: now, IsTrialActive: true, TrialEndsAt: at(time.Hour)}
	assert.True(t, e.CheckAccess(context.Background(), &trial, now).Allowed)
	assert.Equal(t, Unlimited, e.ComputeStatus(&trial, now).Remaining)
}

func TestCheckAccess_ExpiredTrialDowngrades(t *testing.T) {
	p := expiredTrial("u")
	src := newFakeProfiles(p)
	e := newTestEngine(src)

	got := e.CheckAccess(context.Background(), &p, now)
	assert.Equal(t, Decision{Reason: ReasonTrialExpired}, got)
	assert.Equal(t, 1, src.downgrades)

	stored := src.get("u")
	assert.False(t, stored.IsTrialActive)
	assert.Equal(t, domain.TierFree, stored.SubscriptionTier)
	assert.True(t, stored.TrialUsed)
}

func TestCheckAccess_StaleSnapshotAfterUpgrade(t *testing.T) {
	// The caller holds an expired-trial snapshot, but the store already
	// recorded a concurrent upgrade to pro.
	snapshot := expiredTrial("u")
	upgraded := snapshot
	upgraded.SubscriptionTier = domain.TierPro
	src := newFakeProfiles(upgraded)
	e := newTestEngine(src)

	got := e.CheckAccess(context.Background(), &snapshot, now)
	assert.Equal(t, Decision{Allowed: true}, got)
	assert.Zero(t, src.downgrades)
	assert.Equal(t, domain.TierPro, src.get("u").SubscriptionTier)
}

func TestCheckAccess_ConcurrentDowngradeIsIdempotent(t *testing.T) {
	p := expiredTrial("u")
	src := newFakeProfiles(p)
	e := newTestEngine(src)

	const callers = 2
	results := make([]Decision, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot := p
			results[i] = e.CheckAccess(context.Background(), &snapshot, now)
		}()
	}
	wg.Wait()

	for _, d := range results {
		assert.Equal(t, Decision{Reason: ReasonTrialExpired}, d)
	}
	assert.Equal(t, 1, src.downgrades)

	stored := src.get("u")
	assert.Equal(t, domain.TierFree, stored.SubscriptionTier)
	assert.False(t, stored.IsTrialActive)
}

func TestCheckAccess_DowngradeFailure(t *testing.T) {
	p := expiredTrial("u")
	src := newFakeProfiles(p)
	src.downErr = errors.New("database is locked")

	got := newTestEngine(src).CheckAccess(context.Background(), &p, now)
	assert.Equal(t, Decision{Reason: ReasonAdminUnavailable}, got)
}

func TestCheckAccessFor(t *testing.T) {
	t.Run("missing profile", func(t *testing.T) {
		e := newTestEngine(newFakeProfiles())
		assert.Equal(t, Decision{Reason: ReasonProfileMissing}, e.CheckAccessFor(context.Background(), "nobody", now))
	})

	t.Run("store unreachable", func(t *testing.T) {
		src := newFakeProfiles(domain.Profile{UserID: "u", SubscriptionTier: "pro"})
		src.getErr = errors.New("connection refused")
		e := newTestEngine(src)
		assert.Equal(t, Decision{Reason: ReasonAdminUnavailable}, e.CheckAccessFor(context.Background(), "u", now))
	})

	t.Run("invalid snapshot", func(t *testing.T) {
		e := newTestEngine(newFakeProfiles(domain.Profile{UserID: "u", UsageCount: -3}))
		assert.Equal(t, Decision{Reason: ReasonAdminUnavailable}, e.CheckAccessFor(context.Background(), "u", now))
	})

	t.Run("pro", func(t *testing.T) {
		e := newTestEngine(newFakeProfiles(domain.Profile{UserID: "u", SubscriptionTier: "pro"}))
		assert.Equal(t, Decision{Allowed: true}, e.CheckAccessFor(context.Background(), "u", now))
	})
}

func TestCheckAccess_SQLiteConcurrentDowngrade(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "profiles.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p := expiredTrial("u")
	require.NoError(t, s.SaveProfile(context.Background(), &p))
	e := newTestEngine(s)

	const callers = 4
	results := make(chan Decision, callers)
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.CheckAccessFor(context.Background(), "u", now)
		}()
	}
	wg.Wait()
	close(results)

	for d := range results {
		assert.Equal(t, Decision{Reason: ReasonTrialExpired}, d)
	}

	stored, err := s.GetProfile(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, stored.SubscriptionTier)
	assert.False(t, stored.IsTrialActive)
}

func TestCheckAccess_SQLiteAgreesOnTrialEnd(t *testing.T) {
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "profiles.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p := domain.Profile{
		UserID:         "u",
		IsTrialActive:  true,
		TrialUsed:      true,
		TrialStartedAt: at(-7 * 24 * time.Hour),
		TrialEndsAt:    at(0),
	}
	require.NoError(t, s.SaveProfile(context.Background(), &p))
	e := newTestEngine(s)

	assert.Equal(t, Decision{Allowed: true}, e.CheckAccessFor(context.Background(), "u", now.Add(500*time.Microsecond)))
	stored, err := s.GetProfile(context.Background(), "u")
	require.NoError(t, err)
	assert.True(t, stored.IsTrialActive)

	assert.Equal(t, Decision{Reason: ReasonTrialExpired}, e.CheckAccessFor(context.Background(), "u", now.Add(time.Millisecond)))
	stored, err = s.GetProfile(context.Background(), "u")
	require.NoError(t, err)
	assert.False(t, stored.IsTrialActive)
}
