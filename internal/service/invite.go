package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	domainerrors "github.com/ezhuthuapp/ezhuthu-server/internal/errors"
	"github.com/ezhuthuapp/ezhuthu-server/internal/invite"
	"github.com/ezhuthuapp/ezhuthu-server/internal/validation"
)

// JoinPath is the public page an invite link points at.
const JoinPath = "/collab/join"

// InviteService issues collaboration invites.
type InviteService struct {
	codec      *invite.Codec
	validator  *validation.Validator
	logger     *slog.Logger
	publicURL  string // Base URL for invite links; empty yields relative links
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// InviteConfig holds invite issuance settings.
type InviteConfig struct {
	PublicURL  string
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// NewInviteService creates a new invite service.
func NewInviteService(codec *invite.Codec, v *validation.Validator, logger *slog.Logger, cfg InviteConfig) *InviteService {
	return &InviteService{
		codec:      codec,
		validator:  v,
		logger:     logger,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		defaultTTL: cfg.DefaultTTL,
		maxTTL:     cfg.MaxTTL,
	}
}

// CreateInviteRequest contains the data needed to create an invite.
type CreateInviteRequest struct {
	DraftID      string `json:"draft_id" validate:"notblank,max=256"`
	InviteeEmail string `json:"invitee_email" validate:"required,email,max=320"`
	TTLSeconds   int64  `json:"ttl_seconds,omitempty" validate:"gte=0"` // 0 = use default
}

// InviteResponse is returned after creating an invite.
type InviteResponse struct {
	Token        string    `json:"token"`
	URL          string    `json:"url"`
	DraftID      string    `json:"draft_id"`
	InviteeEmail string    `json:"invitee_email"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CreateInvite signs an invite for req on behalf of inviterID.
// Inputs are trimmed and NFC-normalized so Tamil draft names compare stably.
// A TTL above the configured maximum is capped.
func (s *InviteService) CreateInvite(ctx context.Context, inviterID string, req CreateInviteRequest) (*InviteResponse, error) {
	req.DraftID = norm.NFC.String(strings.TrimSpace(req.DraftID))
	req.InviteeEmail = strings.ToLower(norm.NFC.String(strings.TrimSpace(req.InviteeEmail)))

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	// Cap in seconds; converting first would overflow time.Duration.
	ttl := s.defaultTTL
	switch {
	case req.TTLSeconds > int64(s.maxTTL/time.Second):
		ttl = s.maxTTL
	case req.TTLSeconds > 0:
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	token, err := s.codec.Encode(invite.Payload{DraftID: req.DraftID, InviteeEmail: req.InviteeEmail}, ttl)
	if err != nil {
		return nil, domainerrors.Internal("failed to sign invite").WithCause(err)
	}

	// Read the expiry back from the token so the response matches what verifiers see.
	res := s.codec.Verify(token)
	if !res.Valid {
		return nil, domainerrors.Internal("issued invite does not verify")
	}

	s.logger.InfoContext(ctx, "invite issued",
		slog.String("inviter_id", inviterID),
		slog.String("draft_id", req.DraftID),
		slog.Duration("ttl", ttl),
	)

	return &InviteResponse{
		Token:        token,
		URL:          s.JoinURL(token),
		DraftID:      req.DraftID,
		InviteeEmail: req.InviteeEmail,
		ExpiresAt:    res.Payload.ExpiresAtTime(),
	}, nil
}

// JoinURL builds the link an invitee opens.
func (s *InviteService) JoinURL(token string) string {
	return s.publicURL + JoinPath + "?token=" + url.QueryEscape(token)
}
