package entitlement

import (
	"math"
	"strconv"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
)

// Unlimited is the Limit and Remaining value of unmetered statuses.
const Unlimited = -1

// DefaultFreeDailyLimit is the free tier's daily quota.
const DefaultFreeDailyLimit = 30

const (
	labelTrial     = "Trial Pro · Unlimited"
	labelUnlimited = "Unlimited"
)

// Policy holds the quota configuration.
type Policy struct {
	FreeDailyLimit int
}

// DefaultPolicy returns the production quota.
func DefaultPolicy() Policy {
	return Policy{FreeDailyLimit: DefaultFreeDailyLimit}
}

// UsageStatus is the read-only view of a profile's metering.
type UsageStatus struct {
	Usage       int                     `json:"usage"`
	Limit       int                     `json:"limit"`
	Remaining   int                     `json:"remaining"`
	Percentage  float64                 `json:"percentage"`
	Label       string                  `json:"label"`
	Tier        domain.SubscriptionTier `json:"tier"`
	IsUnlimited bool                    `json:"is_unlimited"`
	TrialActive bool                    `json:"trial_active"`
}

// TierDailyLimit returns the daily quota for a tier, or Unlimited.
func (pol Policy) TierDailyLimit(tier domain.SubscriptionTier) int {
	if tier.IsPaid() {
		return Unlimited
	}
	return pol.FreeDailyLimit
}

// ComputeStatus derives the status of p at now. It performs no I/O and
// never writes the profile; a counter stamped on an earlier UTC day reads as 0.
func (pol Policy) ComputeStatus(p *domain.Profile, now time.Time) UsageStatus {
	tier := p.Tier()
	usage := EffectiveUsage(p, now)
	trial := TrialActive(p, now)

	limit := pol.TierDailyLimit(tier)
	if trial {
		limit = Unlimited
	}

	s := UsageStatus{
		Usage:       usage,
		Limit:       limit,
		Tier:        tier,
		TrialActive: trial,
		IsUnlimited: limit == Unlimited,
	}

	if s.IsUnlimited {
		s.Remaining = Unlimited
	} else {
		s.Remaining = max(0, limit-usage)
		if limit > 0 {
			s.Percentage = math.Min(100, float64(usage)/float64(limit)*100)
		}
	}

	switch {
	case trial:
		s.Label = labelTrial
	case s.IsUnlimited:
		s.Label = labelUnlimited
	default:
		s.Label = strconv.Itoa(s.Remaining) + " left"
	}

	return s
}

// EffectiveUsage returns the stored counter if it was stamped on now's UTC
// calendar day, and 0 otherwise.
func EffectiveUsage(p *domain.Profile, now time.Time) int {
	if p.UsageResetAt.IsZero() || !sameUTCDay(p.UsageResetAt, now) {
		return 0
	}
	return max(0, p.UsageCount)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
