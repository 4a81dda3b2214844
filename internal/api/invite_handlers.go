package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/ezhuthuapp/ezhuthu-server/internal/errors"
	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
)

func (s *Server) registerInviteRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "createInvite",
		Method:        http.MethodPost,
		Path:          "/api/v1/collab/invites",
		Summary:       "Create invite",
		Description:   "Signs an invite link for a draft collaborator",
		Tags:          []string{"Collaboration"},
		DefaultStatus: http.StatusCreated,
		Security:      []map[string][]string{{"bearer": {}}},
	}, s.handleCreateInvite)
}

// CreateInviteInput contains the invite request body.
type CreateInviteInput struct {
	Body struct {
		DraftID      string `json:"draft_id" doc:"Draft to share"`
		InviteeEmail string `json:"invitee_email" doc:"Address the invite is meant for"`
		TTLSeconds   int64  `json:"ttl_seconds,omitempty" doc:"Lifetime in seconds; 0 uses the server default"`
	}
}

// InviteOutput wraps the invite response for Huma.
type InviteOutput struct {
	Body service.InviteResponse
}

func (s *Server) handleCreateInvite(ctx context.Context, input *CreateInviteInput) (*InviteOutput, error) {
	userID, err := GetUserID(ctx)
	if err != nil {
		return nil, err
	}

	if !s.inviteLimiter.Allow(userID) {
		return nil, domainerrors.RateLimited("too many invites, try again later").
			WithDetails(map[string]string{"retry_after": strconv.Itoa(retryAfterSeconds)})
	}

	resp, err := s.services.Invite.CreateInvite(ctx, userID, service.CreateInviteRequest{
		DraftID:      input.Body.DraftID,
		InviteeEmail: input.Body.InviteeEmail,
		TTLSeconds:   input.Body.TTLSeconds,
	})
	if err != nil {
		return nil, err
	}

	return &InviteOutput{Body: *resp}, nil
}
