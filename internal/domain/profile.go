package domain

import (
	"strings"
	"time"
)

// SubscriptionTier is the billing tier of an identity.
type SubscriptionTier string

const (
	// TierFree is metered by the daily quota.
	TierFree SubscriptionTier = "free"
	// TierPro is unlimited.
	TierPro SubscriptionTier = "pro"
	// TierEnterprise is unlimited.
	TierEnterprise SubscriptionTier = "enterprise"
)

// NormalizeTier lowercases a stored tier and defaults empty values to free.
// Unknown tiers are kept as-is (lowercased) and treated as unpaid.
func NormalizeTier(raw string) SubscriptionTier {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return TierFree
	}
	return SubscriptionTier(t)
}

// IsPaid reports whether the tier grants unlimited access on its own.
func (t SubscriptionTier) IsPaid() bool {
	return t == TierPro || t == TierEnterprise
}

// Profile is the entitlement-relevant slice of a user profile.
// Optional timestamps are nil when unset. A zero UsageResetAt means the
// counter has never been stamped and counts as stale.
type Profile struct {
	UserID           string           `json:"user_id" validate:"notblank"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier"`
	UsageCount       int              `json:"usage_count" validate:"gte=0"`
	UsageResetAt     time.Time        `json:"usage_reset_at"`
	TrialStartedAt   *time.Time       `json:"trial_started_at,omitempty"`
	TrialEndsAt      *time.Time       `json:"trial_ends_at,omitempty"`
	IsTrialActive    bool             `json:"is_trial_active"`
	TrialUsed        bool             `json:"trial_used"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Tier returns the normalized subscription tier.
func (p *Profile) Tier() SubscriptionTier {
	return NormalizeTier(string(p.SubscriptionTier))
}
