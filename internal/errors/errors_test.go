package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeValidation, http.StatusBadRequest},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := NotFound("profile not found")

	assert.True(t, Is(err, ErrNotFound))
	assert.False(t, Is(err, ErrValidation))

	wrapped := fmt.Errorf("loading: %w", err)
	assert.True(t, Is(wrapped, ErrNotFound))
}

func TestError_WithCauseKeepsChain(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Unavailable("store write failed").WithCause(cause)

	assert.Equal(t, "store write failed: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
}

func TestError_WithDetailsCopies(t *testing.T) {
	base := RateLimited("too many invites")
	detailed := base.WithDetails(map[string]string{"email": "required"})

	assert.Nil(t, base.Details)
	require.NotNil(t, detailed.Details)
	assert.Equal(t, base.Code, detailed.Code)
}

func TestError_As(t *testing.T) {
	var target *Error
	err := fmt.Errorf("outer: %w", ValidationWithDetails("validation failed", map[string]string{"ttl_seconds": "gte"}))

	require.True(t, As(err, &target))
	assert.Equal(t, CodeValidation, target.Code)
	assert.Equal(t, "validation failed", target.Message)
	assert.Equal(t, http.StatusBadRequest, target.HTTPStatus())
}
