package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func saveProfile(t *testing.T, s *Store, p *domain.Profile) {
	t.Helper()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = testNow
	}
	if err := s.SaveProfile(context.Background(), p); err != nil {
		t.Fatalf("save profile: %v", err)
	}
}

func mustGet(t *testing.T, s *Store, userID string) *domain.Profile {
	t.Helper()
	p, err := s.GetProfile(context.Background(), userID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	return p
}

func expiredTrialProfile(userID string) *domain.Profile {
	return &domain.Profile{
		UserID:           userID,
		SubscriptionTier: domain.TierFree,
		TrialStartedAt:   ptr(testNow.Add(-8 * 24 * time.Hour)),
		TrialEndsAt:      ptr(testNow.Add(-time.Hour)),
		IsTrialActive:    true,
		TrialUsed:        true,
	}
}

func TestProfile_SaveAndGet(t *testing.T) {
	s := newTestStore(t)

	saveProfile(t, s, &domain.Profile{
		UserID:           "user-1",
		SubscriptionTier: "PRO",
		UsageCount:       4,
		UsageResetAt:     testNow,
		TrialStartedAt:   ptr(testNow.Add(-time.Hour)),
		TrialEndsAt:      ptr(testNow.Add(time.Hour)),
		IsTrialActive:    true,
		TrialUsed:        true,
	})

	got := mustGet(t, s, "user-1")
	if got.SubscriptionTier != domain.TierPro {
		t.Errorf("tier = %q, want pro", got.SubscriptionTier)
	}
	if got.UsageCount != 4 {
		t.Errorf("usage = %d, want 4", got.UsageCount)
	}
	if !got.UsageResetAt.Equal(testNow) {
		t.Errorf("usage_reset_at = %v, want %v", got.UsageResetAt, testNow)
	}
	if got.TrialEndsAt == nil || !got.TrialEndsAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("trial_ends_at = %v", got.TrialEndsAt)
	}
	if !got.IsTrialActive || !got.TrialUsed {
		t.Errorf("trial flags = active:%v used:%v", got.IsTrialActive, got.TrialUsed)
	}
}

func TestProfile_NullableFields(t *testing.T) {
	s := newTestStore(t)
	saveProfile(t, s, &domain.Profile{UserID: "user-1"})

	got := mustGet(t, s, "user-1")
	if got.SubscriptionTier != domain.TierFree {
		t.Errorf("tier = %q, want free", got.SubscriptionTier)
	}
	if !got.UsageResetAt.IsZero() {
		t.Errorf("usage_reset_at = %v, want zero", got.UsageResetAt)
	}
	if got.TrialStartedAt != nil || got.TrialEndsAt != nil {
		t.Errorf("trial timestamps should be nil")
	}
}

func TestProfile_GetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProfile(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDowngradeExpiredTrial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, s, expiredTrialProfile("user-1"))

	applied, err := s.DowngradeExpiredTrial(ctx, "user-1", testNow)
	if err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if !applied {
		t.Fatal("first downgrade should apply")
	}

	got := mustGet(t, s, "user-1")
	if got.IsTrialActive || got.SubscriptionTier != domain.TierFree {
		t.Errorf("after downgrade: tier=%q active=%v", got.SubscriptionTier, got.IsTrialActive)
	}
	if !got.TrialUsed {
		t.Error("trial_used must stay set")
	}

	applied, err = s.DowngradeExpiredTrial(ctx, "user-1", testNow)
	if err != nil {
		t.Fatalf("second downgrade: %v", err)
	}
	if applied {
		t.Error("second downgrade should be a no-op")
	}
}

func TestDowngradeExpiredTrial_Concurrent(t *testing.T) {
	s := newTestStore(t)
	saveProfile(t, s, expiredTrialProfile("user-1"))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DowngradeExpiredTrial(context.Background(), "user-1", testNow)
			if err != nil {
				t.Errorf("downgrade: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied %d times, want exactly 1", applied)
	}
}

func TestDowngradeExpiredTrial_SkipsWhenPreconditionGone(t *testing.T) {
	tests := []struct {
		name    string
		profile *domain.Profile
	}{
		{
			name: "upgraded to pro meanwhile",
			profile: func() *domain.Profile {
				p := expiredTrialProfile("user-1")
				p.SubscriptionTier = domain.TierPro
				return p
			}(),
		},
		{
			name: "trial still running",
			profile: func() *domain.Profile {
				p := expiredTrialProfile("user-1")
				p.TrialEndsAt = ptr(testNow.Add(time.Hour))
				return p
			}(),
		},
		{
			name: "ends exactly now",
			profile: func() *domain.Profile {
				p := expiredTrialProfile("user-1")
				p.TrialEndsAt = ptr(testNow)
				return p
			}(),
		},
		{
			name: "no end date",
			profile: func() *domain.Profile {
				p := expiredTrialProfile("user-1")
				p.TrialEndsAt = nil
				return p
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			saveProfile(t, s, tt.profile)

			applied, err := s.DowngradeExpiredTrial(context.Background(), "user-1", testNow)
			if err != nil {
				t.Fatalf("downgrade: %v", err)
			}
			if applied {
				t.Fatal("downgrade must not apply")
			}
			got := mustGet(t, s, "user-1")
			if got.SubscriptionTier != tt.profile.Tier() {
				t.Errorf("tier changed to %q", got.SubscriptionTier)
			}
		})
	}
}

func TestRecordUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, s, &domain.Profile{UserID: "user-1", UsageCount: 1, UsageResetAt: testNow})

	ok, err := s.RecordUsage(ctx, "user-1", testNow, 3)
	if err != nil || !ok {
		t.Fatalf("record 2/3: ok=%v err=%v", ok, err)
	}
	ok, err = s.RecordUsage(ctx, "user-1", testNow, 3)
	if err != nil || !ok {
		t.Fatalf("record 3/3: ok=%v err=%v", ok, err)
	}
	ok, err = s.RecordUsage(ctx, "user-1", testNow, 3)
	if err != nil {
		t.Fatalf("record over limit: %v", err)
	}
	if ok {
		t.Error("use over the limit must not be recorded")
	}
	if got := mustGet(t, s, "user-1").UsageCount; got != 3 {
		t.Errorf("usage = %d, want 3", got)
	}
}

func TestRecordUsage_ResetsOnNewUTCDay(t *testing.T) {
	s := newTestStore(t)
	yesterday := testNow.Add(-24 * time.Hour)
	saveProfile(t, s, &domain.Profile{UserID: "user-1", UsageCount: 30, UsageResetAt: yesterday})

	ok, err := s.RecordUsage(context.Background(), "user-1", testNow, 30)
	if err != nil || !ok {
		t.Fatalf("record: ok=%v err=%v", ok, err)
	}

	got := mustGet(t, s, "user-1")
	if got.UsageCount != 1 {
		t.Errorf("usage = %d, want 1", got.UsageCount)
	}
	if !got.UsageResetAt.Equal(testNow) {
		t.Errorf("usage_reset_at = %v, want %v", got.UsageResetAt, testNow)
	}
}

func TestRecordUsage_Unlimited(t *testing.T) {
	s := newTestStore(t)
	saveProfile(t, s, &domain.Profile{UserID: "user-1", SubscriptionTier: domain.TierPro, UsageCount: 500, UsageResetAt: testNow})

	ok, err := s.RecordUsage(context.Background(), "user-1", testNow, 0)
	if err != nil || !ok {
		t.Fatalf("record: ok=%v err=%v", ok, err)
	}
	if got := mustGet(t, s, "user-1").UsageCount; got != 501 {
		t.Errorf("usage = %d, want 501", got)
	}
}

func TestRecordUsage_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RecordUsage(context.Background(), "missing", testNow, 30)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartTrial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, s, &domain.Profile{UserID: "user-1"})

	ends := testNow.Add(7 * 24 * time.Hour)
	ok, err := s.StartTrial(ctx, "user-1", testNow, ends)
	if err != nil || !ok {
		t.Fatalf("start trial: ok=%v err=%v", ok, err)
	}

	got := mustGet(t, s, "user-1")
	if !got.IsTrialActive || !got.TrialUsed {
		t.Errorf("trial flags = active:%v used:%v", got.IsTrialActive, got.TrialUsed)
	}
	if got.TrialEndsAt == nil || !got.TrialEndsAt.Equal(ends) {
		t.Errorf("trial_ends_at = %v, want %v", got.TrialEndsAt, ends)
	}

	ok, err = s.StartTrial(ctx, "user-1", testNow, ends)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if ok {
		t.Error("trial is one-time")
	}
}

func TestStartTrial_UnknownTierIsUnpaid(t *testing.T) {
	s := newTestStore(t)
	saveProfile(t, s, &domain.Profile{UserID: "user-1", SubscriptionTier: domain.NormalizeTier("Legacy")})

	ok, err := s.StartTrial(context.Background(), "user-1", testNow, testNow.Add(time.Hour))
	if err != nil || !ok {
		t.Fatalf("start trial: ok=%v err=%v", ok, err)
	}
	if got := mustGet(t, s, "user-1"); !got.IsTrialActive {
		t.Error("unknown tiers are unpaid and may start a trial")
	}
}

func TestStartTrial_PaidTierRejected(t *testing.T) {
	s := newTestStore(t)
	saveProfile(t, s, &domain.Profile{UserID: "user-1", SubscriptionTier: domain.TierEnterprise})

	ok, err := s.StartTrial(context.Background(), "user-1", testNow, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	if ok {
		t.Error("paid tiers cannot start a trial")
	}
}

func TestSetTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saveProfile(t, s, expiredTrialProfile("user-1"))

	if err := s.SetTier(ctx, "user-1", domain.TierPro, testNow); err != nil {
		t.Fatalf("set tier: %v", err)
	}

	// A later expiry check must not clobber the upgrade.
	applied, err := s.DowngradeExpiredTrial(ctx, "user-1", testNow)
	if err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if applied {
		t.Error("downgrade clobbered pro")
	}
	if got := mustGet(t, s, "user-1").SubscriptionTier; got != domain.TierPro {
		t.Errorf("tier = %q, want pro", got)
	}

	if err := s.SetTier(ctx, "missing", domain.TierPro, testNow); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
