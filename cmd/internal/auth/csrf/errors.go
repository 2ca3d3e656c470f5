package csrf

import "errors"

// ErrInvalid is the single failure kind callers see. The concrete reason is
// kept on Error for logs only.
var ErrInvalid = errors.New("csrf: invalid token")

// Error reports a failed double-submit check.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "invalid CSRF token" }

func (e *Error) Unwrap() error { return ErrInvalid }

const (
	reasonCookieMissing = "cookie_missing"
	reasonHeaderMissing = "header_missing"
	reasonMismatch      = "mismatch"
)
