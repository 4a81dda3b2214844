// Package store defines the persistence contract for entitlement profiles.
package store

import (
	"context"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
)

// ProfileReader loads profile snapshots. Every snapshot may already be stale
// by the time a caller acts on it.
type ProfileReader interface {
	// GetProfile returns ErrNotFound when no profile exists for userID.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// TrialDowngrader performs the trial-expiry transition.
type TrialDowngrader interface {
	// DowngradeExpiredTrial sets tier=free and is_trial_active=false only if
	// the stored row still has an active, unpaid trial that ended before now.
	// It reports whether a row changed; a second call is a no-op.
	DowngradeExpiredTrial(ctx context.Context, userID string, now time.Time) (bool, error)
}

// ProfileStore is everything the server persists about entitlements.
type ProfileStore interface {
	ProfileReader
	TrialDowngrader

	// SaveProfile creates or replaces a profile.
	SaveProfile(ctx context.Context, p *domain.Profile) error

	// RecordUsage counts one metered use for the UTC day of now. A counter
	// stamped on an earlier day restarts at 1. When limit > 0 the increment
	// only applies while the day's count is below limit; limit <= 0 means
	// unlimited. It reports whether the use was recorded.
	RecordUsage(ctx context.Context, userID string, now time.Time, limit int) (bool, error)

	// StartTrial begins the one-time trial if it was never used and the tier is free.
	StartTrial(ctx context.Context, userID string, now, endsAt time.Time) (bool, error)

	// SetTier records a tier change from the payment collaborator.
	SetTier(ctx context.Context, userID string, tier domain.SubscriptionTier, now time.Time) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
