package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors used with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state transition")
	ErrRemote       = errors.New("remote error")
)

// Error is a typed domain error carrying a kind sentinel and a message.
type Error struct {
	Kind    error
	Message string
	Status  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

// Unwrap exposes the kind sentinel to errors.Is.
func (e *Error) Unwrap() error { return e.Kind }

// NewValidationError creates a validation error.
func NewValidationError(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

// NewNotFoundError creates a not-found error for the given entity and id.
func NewNotFoundError(entity, id string) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s", entity, id)}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(msg string) error {
	return &Error{Kind: ErrUnauthorized, Message: msg}
}

// NewForbiddenError creates a forbidden error.
func NewForbiddenError(msg string) error {
	return &Error{Kind: ErrForbidden, Message: msg}
}

// NewConflictError creates a conflict error.
func NewConflictError(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

// NewInvalidStateError reports a refused transition between two states.
func NewInvalidStateError(from, to string) error {
	return &Error{Kind: ErrInvalidState, Message: fmt.Sprintf("cannot transition from %s to %s", from, to)}
}

// NewRemoteError wraps an unexpected server response.
func NewRemoteError(status int, msg string) error {
	return &Error{Kind: ErrRemote, Message: msg, Status: status}
}

// HTTPStatus maps an error to the status code the local API answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PaginatedResult is a page of items plus the total count.
type PaginatedResult[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// NewPaginatedResult builds a PaginatedResult.
func NewPaginatedResult[T any](items []T, total int64, page, limit int) PaginatedResult[T] {
	return PaginatedResult[T]{Items: items, Total: total, Page: page, Limit: limit}
}
