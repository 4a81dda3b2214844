package api

import (
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ezhuthuapp/ezhuthu-server/internal/http/response"
)

// EnvelopeTransformer wraps every huma response body in response.Envelope,
// the same shape the non-huma handlers write.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	code, err := strconv.Atoi(status)
	if err != nil {
		return v, nil //nolint:nilerr // Non-numeric status (e.g. "default") passes through.
	}

	if code < 400 {
		return response.Envelope{Success: true, Data: v}, nil
	}

	switch e := v.(type) {
	case *APIError:
		return response.Envelope{Error: e.Message, Code: e.Code, Details: e.Details}, nil
	case error:
		return response.Envelope{Error: e.Error(), Code: statusToCode(code)}, nil
	default:
		return response.Envelope{Data: v, Code: statusToCode(code)}, nil
	}
}
