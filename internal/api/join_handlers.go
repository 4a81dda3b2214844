package api

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
)

//go:embed templates/*.html
var templates embed.FS

var joinTemplate = template.Must(template.ParseFS(templates, "templates/join.html"))

func (s *Server) registerJoinRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "resolveInvite",
		Method:      http.MethodGet,
		Path:        "/api/v1/collab/join",
		Summary:     "Resolve invite",
		Description: "Verifies an invite token. Invalid tokens are a 200 with valid=false and a reason.",
		Tags:        []string{"Collaboration"},
	}, s.handleResolveInvite)

	s.router.Get(service.JoinPath, s.handleJoinPage)
}

// ResolveInviteInput contains the token to verify.
type ResolveInviteInput struct {
	Token string `query:"token" doc:"Opaque invite token"`
}

// JoinResponse is the API view of an invite link.
type JoinResponse struct {
	service.JoinView
	Message string `json:"message" doc:"Human-readable description of the outcome"`
}

// JoinOutput wraps the join response for Huma.
type JoinOutput struct {
	Body JoinResponse
}

func (s *Server) handleResolveInvite(ctx context.Context, input *ResolveInviteInput) (*JoinOutput, error) {
	view := s.services.Join.Resolve(ctx, input.Token, viewerID(ctx))
	return &JoinOutput{
		Body: JoinResponse{JoinView: view, Message: service.Message(view.Reason)},
	}, nil
}

// joinPageData contains data for the invite landing page template.
type joinPageData struct {
	View      service.JoinView
	Message   string
	ExpiresAt string
}

// handleJoinPage serves the invite landing page.
// GET /collab/join?token=
func (s *Server) handleJoinPage(w http.ResponseWriter, r *http.Request) {
	view := s.services.Join.Resolve(r.Context(), r.URL.Query().Get("token"), viewerID(r.Context()))

	data := joinPageData{
		View:    view,
		Message: service.Message(view.Reason),
	}
	if view.ExpiresAt != nil {
		data.ExpiresAt = view.ExpiresAt.UTC().Format(time.RFC1123)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	if err := joinTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to execute join template", "error", err)
	}
}
