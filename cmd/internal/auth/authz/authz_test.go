package authz

import (
	"context"
	"errors"
	"testing"

	"codetalk/cmd/internal/auth/session"
)

func TestCheck(t *testing.T) {
	t.Parallel()

	user := &session.Claims{UserID: 7, Role: session.RoleUser}
	admin := &session.Claims{UserID: 1, Role: session.RoleAdmin}

	cases := []struct {
		name   string
		in     Input
		guards []Guard
		want   error
	}{
		{name: "anonymous needs auth", in: Input{}, guards: []Guard{IsAuthenticated}, want: ErrUnauthenticated},
		{name: "user authenticated", in: Input{Claims: user}, guards: []Guard{IsAuthenticated}},
		{name: "user not admin", in: Input{Claims: user}, guards: []Guard{IsAuthenticated, IsAdmin}, want: ErrForbidden},
		{name: "anonymous admin check", in: Input{}, guards: []Guard{IsAdmin}, want: ErrUnauthenticated},
		{name: "admin", in: Input{Claims: admin}, guards: []Guard{IsAdmin}},
		{name: "owner deletes", in: Input{Claims: user, ResourceOwnerID: 7}, guards: []Guard{OwnerOrAdmin}},
		{name: "other user denied", in: Input{Claims: user, ResourceOwnerID: 8}, guards: []Guard{OwnerOrAdmin}, want: ErrForbidden},
		{name: "admin deletes any", in: Input{Claims: admin, ResourceOwnerID: 8}, guards: []Guard{OwnerOrAdmin}},
		{name: "empty chain allows", in: Input{}},
	}
	for _, tc := range cases {
		err := Check(context.Background(), tc.in, tc.guards...).Err()
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected denial %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestCheck_ShortCircuits(t *testing.T) {
	t.Parallel()

	called := false
	never := func(context.Context, Input) Decision {
		called = true
		return Allow()
	}

	d := Check(context.Background(), Input{}, IsAuthenticated, never)
	if d.Allowed || d.Kind != KindUnauthenticated {
		t.Fatalf("unexpected decision %+v", d)
	}
	if called {
		t.Fatalf("guards after a denial must not run")
	}
}
