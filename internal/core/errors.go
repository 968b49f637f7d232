package core

import (
	"errors"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal"
)

var (
	// ErrUnauthorized is returned by Admit for any token failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClientNotFound is returned for handles that are not (or no longer) admitted.
	ErrClientNotFound = errors.New("client not found")
	// ErrBadRequest is returned for commands with missing fields.
	ErrBadRequest = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ToCoreError maps an error from the relay or journal onto a client-facing code.
func ToCoreError(err error) *CoreError {
	var (
		coreErr *CoreError
		verr    *store.ValidationError
	)
	switch {
	case errors.As(err, &coreErr):
		return coreErr
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrClientNotFound):
		return coreError(ErrCodeNotFound, err.Error())
	case errors.As(err, &verr), errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return coreError(ErrCodeUnauthorized, "unauthorized")
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
