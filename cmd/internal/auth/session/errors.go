package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfig is returned for missing or inconsistent configuration (fatal at startup).
	ErrConfig = errors.New("invalid session config")

	// ErrInvalidToken covers malformed tokens, bad signatures and claim mismatches.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token was well formed but its expiry has passed.
	// Callers use it to choose a refresh attempt over a full re-login.
	ErrTokenExpired = errors.New("token expired")

	// ErrRateLimited is returned when an identifier exhausted its attempt window.
	ErrRateLimited = errors.New("too many authentication attempts")
)

// RateLimitError carries the estimated wait before the identifier may retry.
type RateLimitError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterMinutes rounds the wait up to whole minutes, the unit shown to users.
func (e RateLimitError) RetryAfterMinutes() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int((e.RetryAfter + time.Minute - 1) / time.Minute)
}
