package session

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Authority is the single owner of token issuance, verification and the
// sign-in attempt window. It is safe for concurrent use.
type Authority struct {
	cfg      Config
	log      *slog.Logger
	attempts AttemptStore
	now      func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Authority) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAttemptStore swaps the process-local attempt window for a shared one.
func WithAttemptStore(s AttemptStore) Option {
	return func(a *Authority) {
		if s != nil {
			a.attempts = s
		}
	}
}

// NewAuthority validates cfg and builds an Authority. Configuration errors are
// fatal: callers should refuse to start.
func NewAuthority(cfg Config, log *slog.Logger, opts ...Option) (*Authority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	accessTTL, _ := ParseDuration(cfg.AccessTTL)
	refreshTTL, _ := ParseDuration(cfg.RefreshTTL)

	a := &Authority{
		cfg:        cfg,
		log:        log,
		attempts:   NewMemoryAttemptStore(),
		now:        time.Now,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Config returns the validated configuration.
func (a *Authority) Config() Config { return a.cfg }

// CheckAuthRateLimit counts one attempt for identifier. Once AttemptLimit
// attempts fall inside the window it fails with RateLimitError and does not
// record the rejected attempt. Only that identifier is affected.
func (a *Authority) CheckAuthRateLimit(ctx context.Context, identifier string) error {
	key := normalizeIdentifier(identifier)
	if key == "" {
		return nil
	}

	now := a.now()
	allowed, oldest, err := a.attempts.Hit(ctx, key, now, a.cfg.AttemptWindow, a.cfg.AttemptLimit)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	retry := a.cfg.AttemptWindow - now.Sub(oldest)
	if retry < 0 {
		retry = 0
	}
	a.log.Warn("auth.attempts.rate_limited", "identifier", key, "retry_after_s", int64(retry.Seconds()))
	return RateLimitError{Identifier: key, RetryAfter: retry}
}

// ClearAuthAttempts resets the window after a successful authentication.
func (a *Authority) ClearAuthAttempts(ctx context.Context, identifier string) error {
	key := normalizeIdentifier(identifier)
	if key == "" {
		return nil
	}
	return a.attempts.Clear(ctx, key)
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
