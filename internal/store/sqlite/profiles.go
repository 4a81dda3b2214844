package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store"
)

// profileColumns is the ordered list of columns selected in profile queries.
// Must match the scan order in scanProfile.
const profileColumns = `user_id, subscription_tier, usage_count, usage_reset_at,
	trial_started_at, trial_ends_at, is_trial_active, trial_used, updated_at`

// sameUTCDay compares the stored usage stamp with the bound "now" parameter.
// Both sides are unix milliseconds; a NULL stamp never matches.
const sameUTCDay = `usage_reset_at IS NOT NULL AND
	date(usage_reset_at / 1000, 'unixepoch') = date(? / 1000, 'unixepoch')`

func scanProfile(scanner interface{ Scan(dest ...any) error }) (*domain.Profile, error) {
	var (
		p              domain.Profile
		tier           string
		usageResetAt   sql.NullInt64
		trialStartedAt sql.NullInt64
		trialEndsAt    sql.NullInt64
		isTrialActive  int
		trialUsed      int
		updatedAt      int64
	)

	err := scanner.Scan(
		&p.UserID,
		&tier,
		&p.UsageCount,
		&usageResetAt,
		&trialStartedAt,
		&trialEndsAt,
		&isTrialActive,
		&trialUsed,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.SubscriptionTier = domain.NormalizeTier(tier)
	if usageResetAt.Valid {
		p.UsageResetAt = fromMillis(usageResetAt.Int64)
	}
	p.TrialStartedAt = parseNullableMillis(trialStartedAt)
	p.TrialEndsAt = parseNullableMillis(trialEndsAt)
	p.IsTrialActive = isTrialActive != 0
	p.TrialUsed = trialUsed != 0
	p.UpdatedAt = fromMillis(updatedAt)

	return &p, nil
}

// GetProfile retrieves a profile by user ID.
// Returns store.ErrNotFound if the profile does not exist.
func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)

	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// SaveProfile creates or replaces a profile.
func (s *Store) SaveProfile(ctx context.Context, p *domain.Profile) error {
	now := time.Now()
	if !p.UpdatedAt.IsZero() {
		now = p.UpdatedAt
	}
	resetAt := p.UsageResetAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (
			user_id, subscription_tier, usage_count, usage_reset_at,
			trial_started_at, trial_ends_at, is_trial_active, trial_used,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			subscription_tier = excluded.subscription_tier,
			usage_count       = excluded.usage_count,
			usage_reset_at    = excluded.usage_reset_at,
			trial_started_at  = excluded.trial_started_at,
			trial_ends_at     = excluded.trial_ends_at,
			is_trial_active   = excluded.is_trial_active,
			trial_used        = excluded.trial_used,
			updated_at        = excluded.updated_at`,
		p.UserID,
		string(p.Tier()),
		p.UsageCount,
		nullMillis(&resetAt),
		nullMillis(p.TrialStartedAt),
		nullMillis(p.TrialEndsAt),
		boolToInt(p.IsTrialActive),
		boolToInt(p.TrialUsed),
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// DowngradeExpiredTrial implements store.TrialDowngrader. The WHERE clause
// re-checks the expiry precondition so a concurrent upgrade to a paid tier
// is never overwritten and repeated calls change nothing.
func (s *Store) DowngradeExpiredTrial(ctx context.Context, userID string, now time.Time) (bool, error) {
	nowMs := toMillis(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_trial_active = 0, subscription_tier = 'free', updated_at = ?
		WHERE user_id = ?
			AND is_trial_active = 1
			AND trial_ends_at IS NOT NULL
			AND trial_ends_at < ?
			AND subscription_tier NOT IN ('pro', 'enterprise')`,
		nowMs, userID, nowMs,
	)
	if err != nil {
		return false, fmt.Errorf("downgrade expired trial: %w", err)
	}

	applied, err := affected(res)
	if err != nil {
		return false, err
	}
	if applied {
		s.logger.Info("expired trial downgraded", slog.String("user_id", userID))
	}
	return applied, nil
}

// RecordUsage implements store.ProfileStore.
func (s *Store) RecordUsage(ctx context.Context, userID string, now time.Time, limit int) (bool, error) {
	nowMs := toMillis(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET usage_count = CASE WHEN `+sameUTCDay+` THEN usage_count + 1 ELSE 1 END,
			usage_reset_at = ?,
			updated_at = ?
		WHERE user_id = ?
			AND (? <= 0 OR NOT (`+sameUTCDay+`) OR usage_count < ?)`,
		nowMs,
		nowMs,
		nowMs,
		userID,
		limit,
		nowMs,
		limit,
	)
	if err != nil {
		return false, fmt.Errorf("record usage: %w", err)
	}

	applied, err := affected(res)
	if err != nil {
		return false, err
	}
	if !applied {
		if _, err := s.GetProfile(ctx, userID); err != nil {
			return false, err
		}
	}
	return applied, nil
}

// StartTrial implements store.ProfileStore.
func (s *Store) StartTrial(ctx context.Context, userID string, now, endsAt time.Time) (bool, error) {
	nowMs := toMillis(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET is_trial_active = 1, trial_used = 1,
			trial_started_at = ?, trial_ends_at = ?, updated_at = ?
		WHERE user_id = ?
			AND trial_used = 0
			AND subscription_tier NOT IN ('pro', 'enterprise')`,
		nowMs, toMillis(endsAt), nowMs, userID,
	)
	if err != nil {
		return false, fmt.Errorf("start trial: %w", err)
	}

	applied, err := affected(res)
	if err != nil {
		return false, err
	}
	if !applied {
		if _, err := s.GetProfile(ctx, userID); err != nil {
			return false, err
		}
	}
	return applied, nil
}

// SetTier implements store.ProfileStore.
func (s *Store) SetTier(ctx context.Context, userID string, tier domain.SubscriptionTier, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET subscription_tier = ?, updated_at = ? WHERE user_id = ?`,
		string(domain.NormalizeTier(string(tier))), toMillis(now), userID,
	)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}

	applied, err := affected(res)
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
