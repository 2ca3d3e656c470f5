package app

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func TestLoadConfig_CORSAndProxyFromEnv(t *testing.T) {
	t.Setenv("CODETALK_CORS_ALLOWED_ORIGINS", " https://app.example.com, ,https://admin.example.com ")
	t.Setenv("CODETALK_CORS_ALLOW_CREDENTIALS", "false")
	t.Setenv("CODETALK_CORS_MAX_AGE", "120")
	t.Setenv("CODETALK_TRUST_PROXY", "true")

	cfg := LoadConfig()
	want := []string{"https://app.example.com", "https://admin.example.com"}
	if !slices.Equal(cfg.CORSAllowedOrigins, want) {
		t.Fatalf("allowed origins: got %q want %q", cfg.CORSAllowedOrigins, want)
	}
	if cfg.CORSAllowCredentials {
		t.Fatalf("expected credentials disabled")
	}
	if cfg.CORSMaxAgeSeconds != 120 {
		t.Fatalf("max age: got %d", cfg.CORSMaxAgeSeconds)
	}
	if !cfg.TrustProxy {
		t.Fatalf("expected proxy headers trusted")
	}

	h := WithCORS(http.NotFoundHandler(), cfg, discardLogger())
	req := httptest.NewRequest(http.MethodOptions, "/api/me", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPatch) {
		t.Fatalf("allow-methods missing PATCH: %q", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("CODETALK_CORS_ALLOWED_ORIGINS", "")
	t.Setenv("CODETALK_TRUST_PROXY", "")

	cfg := LoadConfig()
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("expected CORS disabled, got %q", cfg.CORSAllowedOrigins)
	}
	if cfg.TrustProxy {
		t.Fatalf("proxy headers must not be trusted by default")
	}
}
