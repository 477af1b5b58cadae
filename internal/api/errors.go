package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/steemit/redsky/internal/app"
	"github.com/steemit/redsky/internal/ui"
)

// Application error codes, outside the range reserved by JSON-RPC
const (
	ErrServerError  = -32000
	ErrInvalidState = -32001
	ErrBusy         = -32002
	ErrUnavailable  = -32003
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// codeFor maps a handler error to a JSON-RPC error code and message
func codeFor(err error) (int, string) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code, apiErr.Message
	case errors.Is(err, app.ErrEmptyInput), errors.Is(err, app.ErrInvalidView):
		return ErrInvalidParams, "Invalid params"
	case errors.Is(err, app.ErrNotLoggedIn),
		errors.Is(err, app.ErrAlreadyLoggedIn),
		errors.Is(err, app.ErrLoginInProgress):
		return ErrInvalidState, "Invalid state"
	case errors.Is(err, app.ErrCommandQueueFull):
		return ErrBusy, "Busy"
	case errors.Is(err, ui.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable, "Unavailable"
	}
	return ErrServerError, "Server error"
}
