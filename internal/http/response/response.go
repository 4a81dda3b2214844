// Package response writes the JSON envelope used by handlers that sit outside huma.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	domainerrors "github.com/ezhuthuapp/ezhuthu-server/internal/errors"
	"github.com/ezhuthuapp/ezhuthu-server/internal/store"
)

// Envelope is the response shape shared by every JSON endpoint.
type Envelope struct {
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
	Success bool   `json:"success"`
}

// Error writes an error envelope.
func Error(w http.ResponseWriter, status int, code, message string, logger *slog.Logger) {
	write(w, status, Envelope{Success: false, Error: message, Code: code}, logger)
}

// TooManyRequests writes a 429 envelope with a Retry-After header in seconds.
func TooManyRequests(w http.ResponseWriter, retryAfter string, logger *slog.Logger) {
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	Error(w, http.StatusTooManyRequests, string(domainerrors.CodeRateLimited), "rate limit exceeded", logger)
}

// HandleError maps domain and store errors to their HTTP status; anything
// else becomes a logged 500 without leaking the cause.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		write(w, domainErr.HTTPStatus(), Envelope{
			Error:   domainErr.Message,
			Code:    string(domainErr.Code),
			Details: domainErr.Details,
		}, logger)
		return
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		Error(w, storeErr.HTTPCode(), "", storeErr.Message, logger)
		return
	}

	if logger != nil {
		logger.Error("unhandled error", slog.String("error", err.Error()))
	}
	Error(w, http.StatusInternalServerError, string(domainerrors.CodeInternal), "internal server error", logger)
}

func write(w http.ResponseWriter, status int, env Envelope, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil && logger != nil {
		logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
