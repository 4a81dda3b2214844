// Package entitlement decides what an identity may use.
//
// ComputeStatus is a pure function of a profile snapshot and the time.
// Engine.CheckAccess gates AI features on tier and trial and owns exactly one
// write: downgrading a profile whose trial has run out. Quota exhaustion is
// not an access decision; callers read Remaining from the status.
package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/domain"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store"
	"github.com/ezhuthuapp/ezhuthu-server/internal/validation"
)

// Reason explains a denied decision.
type Reason string

const (
	ReasonTrialExpired     Reason = "trial_expired"
	ReasonUpgradeRequired  Reason = "upgrade_required"
	ReasonProfileMissing   Reason = "profile_missing"
	ReasonAdminUnavailable Reason = "admin_unavailable"
)

// Decision is the tagged outcome of an access check. Reason is empty when allowed.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// ProfileSource is the profile collaborator the engine reads and downgrades through.
type ProfileSource interface {
	store.ProfileReader
	store.TrialDowngrader
}

// Engine evaluates access against a profile source.
type Engine struct {
	policy    Policy
	profiles  ProfileSource
	validator *validation.Validator
	logger    *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(policy Policy, profiles ProfileSource, v *validation.Validator, logger *slog.Logger) *Engine {
	if v == nil {
		v = validation.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{policy: policy, profiles: profiles, validator: v, logger: logger}
}

// Policy returns the engine's quota policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ComputeStatus is Policy.ComputeStatus with the engine's policy.
func (e *Engine) ComputeStatus(p *domain.Profile, now time.Time) UsageStatus {
	return e.policy.ComputeStatus(p, now)
}

// LoadProfile reads and validates a profile snapshot. A missing profile
// yields profile_missing; any other failure yields admin_unavailable.
func (e *Engine) LoadProfile(ctx context.Context, userID string) (*domain.Profile, Reason) {
	p, err := e.profiles.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ReasonProfileMissing
	}
	if err != nil {
		e.logger.Error("profile store unavailable",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, ReasonAdminUnavailable
	}
	if err := e.validator.Validate(p); err != nil {
		e.logger.Error("invalid profile snapshot",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, ReasonAdminUnavailable
	}
	return p, ""
}

// CheckAccessFor loads the profile for userID and checks it.
func (e *Engine) CheckAccessFor(ctx context.Context, userID string, now time.Time) Decision {
	p, reason := e.LoadProfile(ctx, userID)
	if reason != "" {
		return deny(reason)
	}
	return e.CheckAccess(ctx, p, now)
}

// CheckAccess decides whether p may use gated features at now.
//
// An unpaid profile whose stored trial flag outlived its window is
// downgraded through the store and denied with trial_expired. The write is
// conditional in the store, so concurrent checks converge: the loser re-reads
// the profile and is allowed only if a paid tier or a new trial appeared.
func (e *Engine) CheckAccess(ctx context.Context, p *domain.Profile, now time.Time) Decision {
	if TrialExpired(p, now) {
		applied, err := e.profiles.DowngradeExpiredTrial(ctx, p.UserID, now)
		if err != nil {
			e.logger.Error("trial downgrade failed",
				slog.String("user_id", p.UserID),
				slog.String("error", err.Error()),
			)
			return deny(ReasonAdminUnavailable)
		}
		if applied {
			e.logger.Info("trial expired",
				slog.String("user_id", p.UserID),
				slog.Time("trial_ended_at", *p.TrialEndsAt),
			)
			return deny(ReasonTrialExpired)
		}

		fresh, reason := e.LoadProfile(ctx, p.UserID)
		if reason != "" {
			return deny(reason)
		}
		if fresh.Tier().IsPaid() || TrialActive(fresh, now) {
			return allow()
		}
		return deny(ReasonTrialExpired)
	}

	if p.Tier().IsPaid() || TrialActive(p, now) {
		return allow()
	}
	return deny(ReasonUpgradeRequired)
}
