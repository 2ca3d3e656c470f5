package csrf

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestGuard(cfg Config) *Guard {
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidate_FailsClosed(t *testing.T) {
	t.Parallel()

	g := newTestGuard(Config{Env: "production"})

	cases := []struct {
		name   string
		cookie string
		header string
		ok     bool
	}{
		{name: "match", cookie: "abc123", header: "abc123", ok: true},
		{name: "cookie absent", header: "abc123"},
		{name: "header absent", cookie: "abc123"},
		{name: "both absent"},
		{name: "differ", cookie: "abc123", header: "abc124"},
		{name: "prefix", cookie: "abc123", header: "abc12"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tc.cookie})
			}
			if tc.header != "" {
				req.Header.Set(DefaultHeaderName, tc.header)
			}

			err := g.Validate(req)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				if err.Error() != "invalid CSRF token" {
					t.Fatalf("error message must stay generic, got %q", err.Error())
				}
			}
		})
	}
}

func TestEnsure_MintsOnce(t *testing.T) {
	t.Parallel()

	g := newTestGuard(Config{Env: "production"})

	rr := httptest.NewRecorder()
	tok, err := g.Ensure(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(tok) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(tok))
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != DefaultCookieName || c.Value != tok {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode || c.MaxAge != 86400 {
		t.Fatalf("cookie attributes wrong: %+v", c)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tok})
	rr = httptest.NewRecorder()
	got, err := g.Ensure(rr, req)
	if err != nil || got != tok {
		t.Fatalf("Ensure with cookie = (%q, %v), want existing token", got, err)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("must not re-mint when cookie exists")
	}
}

func TestProtect(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name   string
		cfg    Config
		op     string
		method string
		token  bool
		want   int
	}{
		{name: "mutation without token", cfg: Config{Env: "production"}, op: "createMessage", method: http.MethodPost, want: http.StatusForbidden},
		{name: "mutation with token", cfg: Config{Env: "production"}, op: "createMessage", method: http.MethodPost, token: true, want: http.StatusNoContent},
		{name: "signin exempt", cfg: Config{Env: "production"}, op: OpSignIn, method: http.MethodPost, want: http.StatusNoContent},
		{name: "signup exempt", cfg: Config{Env: "production"}, op: OpSignUp, method: http.MethodPost, want: http.StatusNoContent},
		{name: "read passes", cfg: Config{Env: "production"}, op: "messages", method: http.MethodGet, want: http.StatusNoContent},
		{name: "test env skips", cfg: Config{Env: "test"}, op: "createMessage", method: http.MethodDelete, want: http.StatusNoContent},
		{name: "dev skip flag", cfg: Config{Env: "development", SkipValidation: true}, op: "createMessage", method: http.MethodPost, want: http.StatusNoContent},
		{name: "prod ignores skip flag", cfg: Config{Env: "production", SkipValidation: true}, op: "createMessage", method: http.MethodPost, want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newTestGuard(tc.cfg).Protect(tc.op, ok)
			req := httptest.NewRequest(tc.method, "/api/x", nil)
			if tc.token {
				req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "t0k"})
				req.Header.Set(DefaultHeaderName, "t0k")
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestMint_OnlyOnSafeMethods(t *testing.T) {
	t.Parallel()

	g := newTestGuard(Config{Env: "development"})
	h := g.Mint(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if len(rr.Result().Cookies()) != 1 {
		t.Fatalf("GET should mint a cookie")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/messages", nil))
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("POST must not mint a cookie")
	}
}
