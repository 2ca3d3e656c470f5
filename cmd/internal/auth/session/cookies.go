package session

import (
	"net/http"
	"time"
)

// SetAuthCookies writes the access and refresh cookies (httpOnly, SameSite=Strict,
// Secure in production). Max-Age follows the configured token lifetimes.
func (a *Authority) SetAuthCookies(w http.ResponseWriter, pair TokenPair) {
	a.setCookie(w, a.cfg.AccessCookieName, pair.AccessToken, maxAgeSeconds(a.cfg.AccessTTL, 15*time.Minute))
	a.setCookie(w, a.cfg.RefreshCookieName, pair.RefreshToken, maxAgeSeconds(a.cfg.RefreshTTL, 7*24*time.Hour))
}

// ClearAuthCookies expires both auth cookies.
func (a *Authority) ClearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{a.cfg.AccessCookieName, a.cfg.RefreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     a.cfg.CookiePath,
			Domain:   a.cfg.CookieDomain,
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   a.cfg.Production,
			SameSite: a.cfg.cookieSameSite(),
		})
	}
}

// RefreshTokenFromRequest returns the refresh cookie value, if any.
func (a *Authority) RefreshTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(a.cfg.RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *Authority) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     a.cfg.CookiePath,
		Domain:   a.cfg.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cfg.Production,
		SameSite: a.cfg.cookieSameSite(),
	})
}
