package service

import (
	"context"
	"time"

	"github.com/ezhuthuapp/ezhuthu-server/internal/entitlement"
	"github.com/ezhuthuapp/ezhuthu-server/internal/invite"
)

// JoinService resolves invite links. It holds no state of its own.
type JoinService struct {
	codec  *invite.Codec
	engine *entitlement.Engine
	now    func() time.Time
}

// NewJoinService creates a new join service.
func NewJoinService(codec *invite.Codec, engine *entitlement.Engine) *JoinService {
	return &JoinService{codec: codec, engine: engine, now: time.Now}
}

// JoinView is what the join page renders.
type JoinView struct {
	Valid         bool                     `json:"valid"`
	Reason        invite.Reason            `json:"reason"`
	DraftID       string                   `json:"draft_id,omitempty"`
	InviteeEmail  string                   `json:"invitee_email,omitempty"`
	ExpiresAt     *time.Time               `json:"expires_at,omitempty"`
	Authenticated bool                     `json:"authenticated"`
	Entitlement   *entitlement.UsageStatus `json:"entitlement,omitempty"`
}

// Resolve verifies token and describes the visitor. viewerID is empty for
// anonymous visitors. Draft and email are disclosed only for valid tokens.
func (s *JoinService) Resolve(ctx context.Context, token, viewerID string) JoinView {
	res := s.codec.Verify(token)

	view := JoinView{
		Valid:         res.Valid,
		Reason:        res.Reason,
		Authenticated: viewerID != "",
	}

	if res.Valid {
		expires := res.Payload.ExpiresAtTime()
		view.DraftID = res.Payload.DraftID
		view.InviteeEmail = res.Payload.InviteeEmail
		view.ExpiresAt = &expires
	}

	if viewerID != "" && s.engine != nil {
		if p, reason := s.engine.LoadProfile(ctx, viewerID); reason == "" {
			status := s.engine.ComputeStatus(p, s.now())
			view.Entitlement = &status
		}
	}

	return view
}

// Message returns the sentence the join page shows for a reason.
func Message(reason invite.Reason) string {
	switch reason {
	case invite.ReasonOK:
		return "You have been invited to collaborate on this draft."
	case invite.ReasonMissing:
		return "This link does not contain an invitation."
	case invite.ReasonMalformed:
		return "This invitation link is damaged. Ask for a new one."
	case invite.ReasonSignatureMismatch:
		return "This invitation could not be verified. Ask for a new one."
	case invite.ReasonExpired:
		return "This invitation has expired. Ask the author to send a new one."
	default:
		return "This invitation is not valid."
	}
}
