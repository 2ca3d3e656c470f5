package session

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	minSecretBytes = 32

	defaultAccessTTL  = "15m"
	defaultRefreshTTL = "7d"
)

// Config holds token, cookie and attempt-limiter settings.
type Config struct {
	// Production turns on the Secure cookie flag.
	Production bool

	AccessSecret  string
	RefreshSecret string

	// AccessTTL and RefreshTTL use the compact form accepted by ParseDuration.
	AccessTTL  string
	RefreshTTL string

	Issuer   string
	Audience string

	// Leeway tolerates clock skew between instances when checking exp/iat.
	Leeway time.Duration

	AccessCookieName  string
	RefreshCookieName string
	CookiePath        string
	CookieDomain      string

	AttemptLimit  int
	AttemptWindow time.Duration
}

// DefaultConfig returns defaults without secrets; Validate fails until both are set.
func DefaultConfig() Config {
	return Config{
		AccessTTL:         defaultAccessTTL,
		RefreshTTL:        defaultRefreshTTL,
		Issuer:            "codetalk-server",
		Audience:          "codetalk-client",
		Leeway:            5 * time.Second,
		AccessCookieName:  "token",
		RefreshCookieName: "refreshToken",
		CookiePath:        "/",
		AttemptLimit:      5,
		AttemptWindow:     15 * time.Minute,
	}
}

// LoadConfigFromEnv reads CODETALK_JWT_* and CODETALK_AUTH_* variables.
//
// Required:
//   - CODETALK_JWT_SECRET
//   - CODETALK_JWT_REFRESH_SECRET
//
// Optional:
//   - CODETALK_ENV (production enables Secure cookies)
//   - CODETALK_JWT_EXPIRES_IN, CODETALK_JWT_REFRESH_EXPIRES_IN ("15m", "7d")
//   - CODETALK_JWT_ISSUER, CODETALK_JWT_AUDIENCE
//   - CODETALK_AUTH_COOKIE_DOMAIN
//   - CODETALK_AUTH_ATTEMPT_LIMIT, CODETALK_AUTH_ATTEMPT_WINDOW (Go duration)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.Production = strings.EqualFold(strings.TrimSpace(os.Getenv("CODETALK_ENV")), "production")
	cfg.AccessSecret = os.Getenv("CODETALK_JWT_SECRET")
	cfg.RefreshSecret = os.Getenv("CODETALK_JWT_REFRESH_SECRET")

	if v := strings.TrimSpace(os.Getenv("CODETALK_JWT_EXPIRES_IN")); v != "" {
		cfg.AccessTTL = v
	}
	if v := strings.TrimSpace(os.Getenv("CODETALK_JWT_REFRESH_EXPIRES_IN")); v != "" {
		cfg.RefreshTTL = v
	}
	if v := strings.TrimSpace(os.Getenv("CODETALK_JWT_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("CODETALK_JWT_AUDIENCE")); v != "" {
		cfg.Audience = v
	}
	cfg.CookieDomain = strings.TrimSpace(os.Getenv("CODETALK_AUTH_COOKIE_DOMAIN"))

	if v := strings.TrimSpace(os.Getenv("CODETALK_AUTH_ATTEMPT_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: CODETALK_AUTH_ATTEMPT_LIMIT", ErrConfig)
		}
		cfg.AttemptLimit = n
	}
	if v := strings.TrimSpace(os.Getenv("CODETALK_AUTH_ATTEMPT_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: CODETALK_AUTH_ATTEMPT_WINDOW", ErrConfig)
		}
		cfg.AttemptWindow = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces: both secrets present and at least 32 bytes, secrets distinct,
// lifetimes parseable, access lifetime shorter than refresh lifetime.
func (c Config) Validate() error {
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		return fmt.Errorf("%w: token secrets are required", ErrConfig)
	}
	if len(c.AccessSecret) < minSecretBytes || len(c.RefreshSecret) < minSecretBytes {
		return fmt.Errorf("%w: token secrets must be at least %d bytes", ErrConfig, minSecretBytes)
	}
	if c.AccessSecret == c.RefreshSecret {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}

	access, err := ParseDuration(c.AccessTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	refresh, err := ParseDuration(c.RefreshTTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if access >= refresh {
		return fmt.Errorf("%w: access lifetime must be shorter than refresh lifetime", ErrConfig)
	}

	if c.AttemptLimit <= 0 || c.AttemptWindow <= 0 {
		return fmt.Errorf("%w: attempt limit and window must be positive", ErrConfig)
	}
	return nil
}

func (c Config) cookieSameSite() http.SameSite { return http.SameSiteStrictMode }
