package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

func TestEnvelopeTransformer_AlwaysIncludesVersion(t *testing.T) {
	tests := []struct {
		name   string
		status string
		input  any
	}{
		{name: "success response", status: "200", input: map[string]string{"key": "value"}},
		{name: "created response", status: "201", input: map[string]string{"id": "123"}},
		{name: "no content response", status: "204", input: nil},
		{name: "bad request error", status: "400", input: errors.New("invalid input")},
		{name: "domain error", status: "409", input: domainerrors.DuplicateRequest("already requested")},
		{name: "internal server error", status: "500", input: errors.New("internal error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := EnvelopeTransformer(nil, tt.status, tt.input)
			require.NoError(t, err)

			jsonBytes, err := json.Marshal(result)
			require.NoError(t, err)

			var envelope map[string]any
			require.NoError(t, json.Unmarshal(jsonBytes, &envelope))

			require.Contains(t, envelope, "v")
			assert.Equal(t, float64(EnvelopeVersion), envelope["v"])
			assert.Contains(t, envelope, "success")
		})
	}
}

func TestEnvelopeTransformer_SuccessResponse(t *testing.T) {
	data := map[string]string{"game_name": "Half-Life 2"}

	result, err := EnvelopeTransformer(nil, "200", data)
	require.NoError(t, err)

	envelope, ok := result.(APIEnvelope)
	require.True(t, ok, "Expected APIEnvelope type")

	assert.True(t, envelope.Success)
	assert.Equal(t, data, envelope.Data)
	assert.Empty(t, envelope.Error)
}

func TestEnvelopeTransformer_PlainError(t *testing.T) {
	result, err := EnvelopeTransformer(nil, "400", errors.New("validation failed"))
	require.NoError(t, err)

	envelope, ok := result.(APIEnvelope)
	require.True(t, ok)

	assert.False(t, envelope.Success)
	assert.Nil(t, envelope.Data)
	assert.Equal(t, "validation failed", envelope.Error)
	assert.Empty(t, envelope.Code)
}

func TestEnvelopeTransformer_ErrorWithDetails(t *testing.T) {
	apiErr := &APIError{
		Code:    "VALIDATION",
		Message: "validation failed",
		Details: map[string]string{"game_name": "is required"},
	}

	result, err := EnvelopeTransformer(nil, "400", apiErr)
	require.NoError(t, err)

	envelope := result.(APIEnvelope)
	assert.Equal(t, "VALIDATION", envelope.Code)
	assert.Equal(t, "validation failed", envelope.Error)
	assert.Equal(t, map[string]string{"game_name": "is required"}, envelope.Details)
}

func TestEnvelopeTransformer_DomainError(t *testing.T) {
	result, err := EnvelopeTransformer(nil, "403", domainerrors.RoleForbidden("only admins can change request status"))
	require.NoError(t, err)

	envelope := result.(APIEnvelope)
	assert.False(t, envelope.Success)
	assert.Equal(t, string(domainerrors.CodeInvalidTransition), envelope.Code)
	assert.Equal(t, "only admins can change request status", envelope.Error)
	assert.Equal(t, domainerrors.TransitionDetail{Reason: domainerrors.ReasonRole}, envelope.Details)
}

func TestEnvelopeTransformer_PassesEnvelopeThrough(t *testing.T) {
	in := APIEnvelope{Version: EnvelopeVersion, Error: "Too many requests"}
	result, err := EnvelopeTransformer(nil, "429", in)
	require.NoError(t, err)
	assert.Equal(t, in, result)
}

func TestRegisterErrorHandler(t *testing.T) {
	RegisterErrorHandler()

	tests := []struct {
		name       string
		status     int
		errs       []error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "domain error keeps its status",
			status:     500,
			errs:       []error{domainerrors.QuotaExceeded(2, 2)},
			wantStatus: 403,
			wantCode:   string(domainerrors.CodeQuotaExceeded),
		},
		{
			name:       "store not found",
			status:     500,
			errs:       []error{store.ErrNotFound},
			wantStatus: 404,
			wantCode:   string(domainerrors.CodeNotFound),
		},
		{
			name:       "huma validation",
			status:     422,
			errs:       []error{errors.New("expected required property game_name to be present")},
			wantStatus: 422,
			wantCode:   string(domainerrors.CodeValidation),
		},
		{
			name:       "unknown error",
			status:     500,
			errs:       []error{errors.New("boom")},
			wantStatus: 500,
			wantCode:   string(domainerrors.CodeInternal),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := newError(tt.status, "message", tt.errs...)
			apiErr, ok := se.(*APIError)
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, apiErr.GetStatus())
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "203.0.113.7", clientIP("203.0.113.7, 10.0.0.1", "", "10.0.0.2:1234"))
	assert.Equal(t, "198.51.100.1", clientIP("", "198.51.100.1", "10.0.0.2:1234"))
	assert.Equal(t, "10.0.0.2", clientIP("", "", "10.0.0.2:1234"))
	assert.Equal(t, "pipe", clientIP("", "", "pipe"))
}
