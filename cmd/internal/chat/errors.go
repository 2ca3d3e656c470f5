package chat

import (
	"errors"
	"fmt"
	"net/http"

	"codetalk/cmd/internal/auth/authz"
	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/pagination"
	v1 "codetalk/shared/contracts/realtime/v1"
)

// Store-level sentinels.
var (
	ErrNotFound = errors.New("chat: not found")
	ErrConflict = errors.New("chat: already exists")
)

type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthenticated
	KindTokenExpired
	KindForbidden
	KindRateLimited
)

// OpError is what every Service method returns on failure.
type OpError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err != nil && e.Kind == KindInternal {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return e.Op + ": " + e.Msg
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op string, kind Kind, msg string, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf classifies err. Errors that are not an OpError are mapped by their
// sentinel, falling back to KindInternal.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	var rl session.RateLimitError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &rl), errors.Is(err, session.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, session.ErrTokenExpired):
		return KindTokenExpired
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, authz.ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, authz.ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, pagination.ErrInvalidCursor):
		return KindValidation
	}
	return KindInternal
}

// Code returns the machine-readable code shared by HTTP and WebSocket errors.
func Code(err error) string {
	switch KindOf(err) {
	case KindValidation, KindConflict:
		return v1.CodeBadUserInput
	case KindNotFound:
		return v1.CodeNotFound
	case KindUnauthenticated:
		return v1.CodeUnauthenticated
	case KindTokenExpired:
		return v1.CodeTokenExpired
	case KindForbidden:
		return v1.CodeForbidden
	case KindRateLimited:
		return v1.CodeRateLimitExceeded
	}
	return v1.CodeInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthenticated, KindTokenExpired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// PublicMessage is safe to show clients. Internal details never leave.
func PublicMessage(err error) string {
	var oe *OpError
	if errors.As(err, &oe) && oe.Kind != KindInternal {
		return oe.Msg
	}
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
