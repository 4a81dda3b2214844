package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/entitlement"
	domainerrors "github.com/ezhuthuapp/ezhuthu-server/internal/errors"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store"
)

// ReasonQuotaExhausted is returned when a metered use would exceed today's quota.
const ReasonQuotaExhausted = "quota_exhausted"

// EntitlementService exposes the entitlement engine to the API.
type EntitlementService struct {
	engine      *entitlement.Engine
	profiles    store.ProfileStore
	trialLength time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewEntitlementService creates a new entitlement service.
func NewEntitlementService(engine *entitlement.Engine, profiles store.ProfileStore, trialLength time.Duration, logger *slog.Logger) *EntitlementService {
	return &EntitlementService{
		engine:      engine,
		profiles:    profiles,
		trialLength: trialLength,
		logger:      logger,
		now:         time.Now,
	}
}

// UsageResult is returned after a metered use.
type UsageResult struct {
	Recorded bool                    `json:"recorded"`
	Reason   string                  `json:"reason,omitempty"`
	Status   entitlement.UsageStatus `json:"status"`
}

// TrialResult is returned after a trial request.
type TrialResult struct {
	Started bool                    `json:"started"`
	Status  entitlement.UsageStatus `json:"status"`
}

// reasonError maps a profile load failure to a domain error.
func reasonError(reason entitlement.Reason) error {
	if reason == entitlement.ReasonProfileMissing {
		return domainerrors.NotFound("profile not found").WithDetails(map[string]string{"reason": string(reason)})
	}
	return domainerrors.Unavailable("profile store unavailable").WithDetails(map[string]string{"reason": string(reason)})
}

// Status returns the caller's usage status.
func (s *EntitlementService) Status(ctx context.Context, userID string) (*entitlement.UsageStatus, error) {
	p, reason := s.engine.LoadProfile(ctx, userID)
	if reason != "" {
		return nil, reasonError(reason)
	}
	status := s.engine.ComputeStatus(p, s.now())
	return &status, nil
}

// Check gates an AI feature. Denials are decisions, not errors.
func (s *EntitlementService) Check(ctx context.Context, userID string) entitlement.Decision {
	return s.engine.CheckAccessFor(ctx, userID, s.now())
}

// RecordUsage counts one metered use if today's quota allows it.
func (s *EntitlementService) RecordUsage(ctx context.Context, userID string) (*UsageResult, error) {
	now := s.now()
	p, reason := s.engine.LoadProfile(ctx, userID)
	if reason != "" {
		return nil, reasonError(reason)
	}

	status := s.engine.ComputeStatus(p, now)
	if !status.IsUnlimited && status.Remaining <= 0 {
		return &UsageResult{Reason: ReasonQuotaExhausted, Status: status}, nil
	}

	limit := status.Limit
	if status.IsUnlimited {
		limit = 0
	}
	recorded, err := s.profiles.RecordUsage(ctx, userID, now, limit)
	if err != nil {
		s.logger.Error("record usage failed", slog.String("user_id", userID), slog.String("error", err.Error()))
		return nil, domainerrors.Unavailable("profile store unavailable").WithCause(err)
	}

	// Recompute from the stored row; a concurrent use may have landed first.
	if fresh, reason := s.engine.LoadProfile(ctx, userID); reason == "" {
		status = s.engine.ComputeStatus(fresh, now)
	}

	result := &UsageResult{Recorded: recorded, Status: status}
	if !recorded {
		result.Reason = ReasonQuotaExhausted
	}
	return result, nil
}

// StartTrial begins the caller's one-time trial.
func (s *EntitlementService) StartTrial(ctx context.Context, userID string) (*TrialResult, error) {
	now := s.now()
	started, err := s.profiles.StartTrial(ctx, userID, now, now.Add(s.trialLength))
	if err != nil {
		if domainerrors.Is(err, store.ErrNotFound) {
			return nil, reasonError(entitlement.ReasonProfileMissing)
		}
		return nil, domainerrors.Unavailable("profile store unavailable").WithCause(err)
	}

	p, reason := s.engine.LoadProfile(ctx, userID)
	if reason != "" {
		return nil, reasonError(reason)
	}
	if started {
		s.logger.Info("trial started", slog.String("user_id", userID), slog.Time("ends_at", now.Add(s.trialLength)))
	}
	return &TrialResult{Started: started, Status: s.engine.ComputeStatus(p, now)}, nil
}
