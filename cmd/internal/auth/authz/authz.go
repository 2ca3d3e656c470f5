// Package authz evaluates ordered Allow/Deny guard chains over the caller's
// verified claims.
package authz

import (
	"context"
	"errors"
	"fmt"

	"codetalk/cmd/internal/auth/session"
)

var (
	ErrUnauthenticated = errors.New("authz: not authenticated")
	ErrForbidden       = errors.New("authz: forbidden")
)

// Kind classifies a denial.
type Kind int

const (
	KindNone Kind = iota
	KindUnauthenticated
	KindForbidden
)

// Decision is the tagged result of one guard.
type Decision struct {
	Allowed bool
	Kind    Kind
	Reason  string
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(kind Kind, reason string) Decision {
	return Decision{Kind: kind, Reason: reason}
}

// Err maps a denial to ErrUnauthenticated or ErrForbidden. It is nil for Allow.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	base := ErrForbidden
	if d.Kind == KindUnauthenticated {
		base = ErrUnauthenticated
	}
	if d.Reason == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, d.Reason)
}

// Input is what a guard sees. ResourceOwnerID is zero when the operation has no owned resource.
type Input struct {
	Claims          *session.Claims
	ResourceOwnerID int64
}

// Guard inspects in and decides.
type Guard func(ctx context.Context, in Input) Decision

// Check runs guards in order and returns the first denial, or Allow when all pass.
func Check(ctx context.Context, in Input, guards ...Guard) Decision {
	for _, g := range guards {
		if d := g(ctx, in); !d.Allowed {
			return d
		}
	}
	return Allow()
}

// All composes guards into one that requires every guard to allow.
func All(guards ...Guard) Guard {
	return func(ctx context.Context, in Input) Decision {
		return Check(ctx, in, guards...)
	}
}

// Any composes guards into one that allows when at least one guard allows.
// The last denial is returned otherwise.
func Any(guards ...Guard) Guard {
	return func(ctx context.Context, in Input) Decision {
		last := Deny(KindForbidden, "no guard allowed")
		for _, g := range guards {
			d := g(ctx, in)
			if d.Allowed {
				return d
			}
			last = d
		}
		return last
	}
}

// IsAuthenticated allows any caller carrying verified claims.
func IsAuthenticated(_ context.Context, in Input) Decision {
	if in.Claims == nil {
		return Deny(KindUnauthenticated, "authentication required")
	}
	return Allow()
}

// IsAdmin allows callers with the admin role.
func IsAdmin(ctx context.Context, in Input) Decision {
	if d := IsAuthenticated(ctx, in); !d.Allowed {
		return d
	}
	if !in.Claims.IsAdmin() {
		return Deny(KindForbidden, "admin role required")
	}
	return Allow()
}

// IsOwner allows the caller who owns the resource.
func IsOwner(ctx context.Context, in Input) Decision {
	if d := IsAuthenticated(ctx, in); !d.Allowed {
		return d
	}
	if in.ResourceOwnerID == 0 || in.ResourceOwnerID != in.Claims.UserID {
		return Deny(KindForbidden, "not the owner")
	}
	return Allow()
}

// OwnerOrAdmin is the message-deletion rule.
var OwnerOrAdmin = Any(IsOwner, IsAdmin)
