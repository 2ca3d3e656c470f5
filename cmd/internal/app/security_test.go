package app

import (
	"errors"
	"testing"

	"codetalk/cmd/internal/realtime/gateway"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	safeWS := gateway.DefaultConfig()
	devWS := gateway.DefaultConfig()
	devWS.DevInsecure = true

	cases := []struct {
		name    string
		cfg     Config
		ws      gateway.Config
		wantErr bool
	}{
		{name: "development bypasses", cfg: Config{Env: "development", CSRFSkipValidation: true}, ws: devWS},
		{name: "production defaults", cfg: Config{Env: "production"}, ws: safeWS},
		{name: "production csrf skip", cfg: Config{Env: "production", CSRFSkipValidation: true}, ws: safeWS, wantErr: true},
		{name: "production insecure ws", cfg: Config{Env: "production"}, ws: devWS, wantErr: true},
		{
			name:    "production wildcard cors",
			cfg:     Config{Env: "production", CORSAllowedOrigins: []string{"http://127.0.0.1:*"}, CORSAllowCredentials: true},
			ws:      safeWS,
			wantErr: true,
		},
		{name: "shared attempts without db", cfg: Config{AttemptsShared: true}, ws: safeWS, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSecurityConfig(tc.cfg, tc.ws)
			if tc.wantErr != (err != nil) {
				t.Fatalf("err=%v wantErr=%v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, ErrSecurityPolicy) {
				t.Fatalf("error does not wrap ErrSecurityPolicy: %v", err)
			}
		})
	}
}
