package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, NewValidationError("bad"), ErrValidation)
	assert.ErrorIs(t, NewNotFoundError("Trip", "42"), ErrNotFound)
	assert.ErrorIs(t, NewUnauthorizedError("expired"), ErrUnauthorized)
	assert.ErrorIs(t, NewInvalidStateError("matched", "in_progress"), ErrInvalidState)

	wrapped := fmt.Errorf("load trip: %w", NewNotFoundError("Trip", "42"))
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.Equal(t, "load trip: not found: Trip 42", wrapped.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewValidationError("x"), http.StatusBadRequest},
		{NewNotFoundError("Trip", "1"), http.StatusNotFound},
		{NewUnauthorizedError("x"), http.StatusUnauthorized},
		{NewForbiddenError("x"), http.StatusForbidden},
		{NewConflictError("x"), http.StatusConflict},
		{NewInvalidStateError("a", "b"), http.StatusConflict},
		{NewRemoteError(502, "x"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
