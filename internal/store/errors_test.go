package store_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gamerequest/gamerequest-server/internal/store"
)

func TestError_Error(t *testing.T) {
	err := &store.Error{Code: http.StatusNotFound, Message: "not found"}
	assert.Equal(t, "not found", err.Error())
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := store.ErrConflict.WithCause(cause)

	assert.Contains(t, err.Error(), "modified concurrently")
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.ErrorIs(t, err, cause)
}

func TestError_IsSurvivesCopies(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"sentinel", store.ErrNotFound, store.ErrNotFound, true},
		{"with cause", store.ErrNotFound.WithCause(errors.New("x")), store.ErrNotFound, true},
		{"with message", store.ErrAlreadyExists.WithMessage("request exists"), store.ErrAlreadyExists, true},
		{"wrapped", fmt.Errorf("get: %w", store.ErrConflict), store.ErrConflict, true},
		{"different code", store.ErrNotFound, store.ErrConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestPageParams_Normalize(t *testing.T) {
	tests := []struct {
		in   store.PageParams
		want store.PageParams
	}{
		{store.PageParams{}, store.PageParams{Limit: 50}},
		{store.PageParams{Offset: -3, Limit: 5000}, store.PageParams{Limit: 500}},
		{store.PageParams{Offset: 10, Limit: 20}, store.PageParams{Offset: 10, Limit: 20}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}
