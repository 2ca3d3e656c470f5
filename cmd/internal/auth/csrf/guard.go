package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultCookieName = "csrf-token"
	DefaultHeaderName = "x-csrf-token"

	tokenBytes = 32
	cookieTTL  = 24 * time.Hour
)

// Operation names exempt from validation: the client holds no cookie yet.
const (
	OpSignIn = "signIn"
	OpSignUp = "signUp"
)

// Config controls cookie attributes and the development bypass.
type Config struct {
	CookieName string
	HeaderName string
	CookiePath string

	// Env is one of development, production or test.
	Env string
	// SkipValidation disables checks in development only. It is ignored in production.
	SkipValidation bool

	// Exempt names operations that bypass validation. Defaults to sign-in and sign-up.
	Exempt []string
}

// Guard mints and validates CSRF tokens.
type Guard struct {
	cfg    Config
	log    *slog.Logger
	exempt map[string]struct{}
	rand   func([]byte) (int, error)
}

// New builds a Guard with defaults applied.
func New(cfg Config, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = DefaultCookieName
	}
	if strings.TrimSpace(cfg.HeaderName) == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if strings.TrimSpace(cfg.CookiePath) == "" {
		cfg.CookiePath = "/"
	}
	if cfg.Exempt == nil {
		cfg.Exempt = []string{OpSignIn, OpSignUp}
	}

	exempt := make(map[string]struct{}, len(cfg.Exempt))
	for _, op := range cfg.Exempt {
		exempt[op] = struct{}{}
	}
	return &Guard{cfg: cfg, log: log, exempt: exempt, rand: rand.Read}
}

func (g *Guard) production() bool { return strings.EqualFold(g.cfg.Env, "production") }

func (g *Guard) skip() bool {
	switch strings.ToLower(g.cfg.Env) {
	case "test":
		return true
	case "development", "":
		return g.cfg.SkipValidation
	default:
		return false
	}
}

// IsExempt reports whether op bypasses validation.
func (g *Guard) IsExempt(op string) bool {
	_, ok := g.exempt[op]
	return ok
}

// Validate fails closed unless the cookie and header are both present and equal.
func (g *Guard) Validate(r *http.Request) error {
	var cookie string
	if c, err := r.Cookie(g.cfg.CookieName); err == nil {
		cookie = c.Value
	}
	header := r.Header.Get(g.cfg.HeaderName)

	switch {
	case cookie == "":
		return &Error{Reason: reasonCookieMissing}
	case header == "":
		return &Error{Reason: reasonHeaderMissing}
	case subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1:
		return &Error{Reason: reasonMismatch}
	}
	return nil
}

// Ensure returns the request's token, minting and setting a new cookie when absent.
func (g *Guard) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(g.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	tok, err := g.newToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cfg.CookieName,
		Value:    tok,
		Path:     g.cfg.CookiePath,
		MaxAge:   int(cookieTTL / time.Second),
		HttpOnly: false,
		Secure:   g.production(),
		SameSite: http.SameSiteStrictMode,
	})
	return tok, nil
}

func (g *Guard) newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := g.rand(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Mint sets the cookie on safe requests that lack one.
func (g *Guard) Mint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			if _, err := g.Ensure(w, r); err != nil {
				g.log.Error("csrf.mint.fail", "err", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Protect validates mutating requests to the named operation before calling next.
func (g *Guard) Protect(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) || g.IsExempt(op) || g.skip() {
			next.ServeHTTP(w, r)
			return
		}
		if err := g.Validate(r); err != nil {
			var ce *Error
			if errors.As(err, &ce) {
				g.log.Warn("csrf.reject", "op", op, "reason", ce.Reason, "path", r.URL.Path)
			}
			writeRejected(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func writeRejected(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "CSRF_INVALID", "message": "invalid CSRF token"},
	})
}
