package session

import (
	"context"
	"net/http"
	"strings"
)

// TokenHeader is the custom header checked before Authorization.
const TokenHeader = "X-Token"

// TokenFromRequest returns the access token presented on r, checking the
// X-Token header, then an Authorization bearer value, then the access cookie.
func (a *Authority) TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if v := strings.TrimSpace(r.Header.Get(TokenHeader)); v != "" {
		return v
	}
	if v := BearerToken(r.Header.Get("Authorization")); v != "" {
		return v
	}
	if c, err := r.Cookie(a.cfg.AccessCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// UserFromRequest resolves and verifies the request's access token.
// It returns (nil, nil) when no token is present and propagates verification
// failures (ErrTokenExpired, ErrInvalidToken) otherwise.
func (a *Authority) UserFromRequest(r *http.Request) (*Claims, error) {
	tok := a.TokenFromRequest(r)
	if tok == "" {
		return nil, nil
	}
	return a.VerifyToken(tok, false)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(v string) string {
	v = strings.TrimSpace(v)
	const prefix = "bearer "
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}

type claimsKey struct{}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by WithClaims, or nil for anonymous callers.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}
