package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/entitlement"
	"github.com/ezhuthuapp/ezhuthu-server/internal/service"
)

func (s *Server) registerEntitlementRoutes() {
	bearer := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID: "getEntitlement",
		Method:      http.MethodGet,
		Path:        "/api/v1/entitlement",
		Summary:     "Get usage status",
		Description: "Returns the caller's quota and trial status",
		Tags:        []string{"Entitlement"},
		Security:    bearer,
	}, s.handleGetEntitlement)

	huma.Register(s.api, huma.Operation{
		OperationID: "checkEntitlement",
		Method:      http.MethodPost,
		Path:        "/api/v1/entitlement/check",
		Summary:     "Check AI access",
		Description: "Decides whether the caller may use AI features. A denial is a 200 with a reason.",
		Tags:        []string{"Entitlement"},
		Security:    bearer,
	}, s.handleCheckEntitlement)

	huma.Register(s.api, huma.Operation{
		OperationID: "recordUsage",
		Method:      http.MethodPost,
		Path:        "/api/v1/entitlement/usage",
		Summary:     "Record usage",
		Description: "Counts one metered use if today's quota allows it",
		Tags:        []string{"Entitlement"},
		Security:    bearer,
	}, s.handleRecordUsage)

	huma.Register(s.api, huma.Operation{
		OperationID: "startTrial",
		Method:      http.MethodPost,
		Path:        "/api/v1/entitlement/trial",
		Summary:     "Start trial",
		Description: "Starts the one-time Pro trial for a free account",
		Tags:        []string{"Entitlement"},
		Security:    bearer,
	}, s.handleStartTrial)
}

// UsageStatusOutput wraps a usage status for Huma.
type UsageStatusOutput struct {
	Body entitlement.UsageStatus
}

// DecisionOutput wraps an access decision for Huma.
type DecisionOutput struct {
	Body entitlement.Decision
}

// UsageOutput wraps a usage result for Huma.
type UsageOutput struct {
	Body service.UsageResult
}

// TrialOutput wraps a trial result for Huma.
type TrialOutput struct {
	Body service.TrialResult
}

func (s *Server) handleGetEntitlement(ctx context.Context, _ *struct{}) (*UsageStatusOutput, error) {
	userID, err := GetUserID(ctx)
	if err != nil {
		return nil, err
	}

	status, err := s.services.Entitlement.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UsageStatusOutput{Body: *status}, nil
}

func (s *Server) handleCheckEntitlement(ctx context.Context, _ *struct{}) (*DecisionOutput, error) {
	userID, err := GetUserID(ctx)
	if err != nil {
		return nil, err
	}
	return &DecisionOutput{Body: s.services.Entitlement.Check(ctx, userID)}, nil
}

func (s *Server) handleRecordUsage(ctx context.Context, _ *struct{}) (*UsageOutput, error) {
	userID, err := GetUserID(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.services.Entitlement.RecordUsage(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UsageOutput{Body: *result}, nil
}

func (s *Server) handleStartTrial(ctx context.Context, _ *struct{}) (*TrialOutput, error) {
	userID, err := GetUserID(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.services.Entitlement.StartTrial(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TrialOutput{Body: *result}, nil
}
