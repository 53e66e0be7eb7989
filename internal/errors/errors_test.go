package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeQuotaExceeded, http.StatusForbidden},
		{CodeDuplicateRequest, http.StatusConflict},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeCatalogUnavailable, http.StatusBadGateway},
		{CodeInvalidTransition, http.StatusUnprocessableEntity},
		{CodeNoMatch, http.StatusUnprocessableEntity},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := QuotaExceeded(2, 2)
	wrapped := fmt.Errorf("create request: %w", err)

	assert.True(t, Is(wrapped, ErrQuotaExceeded))
	assert.False(t, Is(wrapped, ErrConflict))
	assert.Equal(t, CodeQuotaExceeded, CodeOf(wrapped))
}

func TestError_WithCauseKeepsChain(t *testing.T) {
	root := New("connection refused")
	err := ErrCatalogUnavailable.WithCause(root)

	assert.True(t, Is(err, root))
	assert.True(t, Is(err, ErrCatalogUnavailable))
	assert.Equal(t, "catalog unavailable: connection refused", err.Error())

	// The sentinel itself must stay untouched.
	assert.Nil(t, ErrCatalogUnavailable.Unwrap())
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(New("boom")))
}

func TestCode_Retryable(t *testing.T) {
	assert.True(t, CodeCatalogUnavailable.Retryable())
	assert.True(t, CodeRateLimited.Retryable())
	assert.False(t, CodeNoMatch.Retryable())
	assert.False(t, CodeDuplicateRequest.Retryable())
}

func TestError_HTTPStatusForTransitions(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, IllegalTransition("pending", "completed").HTTPStatus())
	assert.Equal(t, http.StatusForbidden, RoleForbidden("only admins can change request status").HTTPStatus())
	assert.True(t, Is(RoleForbidden("nope"), ErrInvalidTransition))
}
