package app

import (
	"errors"
	"strings"

	"codetalk/cmd/internal/realtime/gateway"
)

var ErrSecurityPolicy = errors.New("security policy")

// ValidateSecurityConfig refuses to start production with development
// bypasses switched on, or with settings that cannot work together.
func ValidateSecurityConfig(cfg Config, ws gateway.Config) error {
	var errs []error

	if cfg.AttemptsShared && cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("CODETALK_AUTH_ATTEMPTS_SHARED requires CODETALK_DATABASE_URL"))
	}

	if cfg.Production() {
		if cfg.CSRFSkipValidation {
			errs = append(errs, errors.New("CODETALK_CSRF_SKIP_VALIDATION is not allowed in production"))
		}
		if ws.DevInsecure {
			errs = append(errs, errors.New("CODETALK_WS_DEV_INSECURE is not allowed in production"))
		}
		if !ws.OriginRequired {
			errs = append(errs, errors.New("CODETALK_WS_ORIGIN_REQUIRED must stay enabled in production"))
		}
		for _, o := range cfg.CORSAllowedOrigins {
			if strings.Contains(o, "*") && cfg.CORSAllowCredentials {
				errs = append(errs, errors.New("wildcard CORS origin "+o+" cannot be combined with credentials in production"))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrSecurityPolicy}, errs...)...)
}
