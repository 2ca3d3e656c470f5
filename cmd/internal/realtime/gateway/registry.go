package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"codetalk/cmd/internal/auth/authz"
	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/realtime/eventbus"
)

// Request is what a subscription sees when it is opened.
type Request struct {
	ConnectionID string
	Claims       *session.Claims
	Variables    json.RawMessage
}

// Filter decides whether ev is delivered on one subscription and returns the
// payload to forward.
type Filter func(ev eventbus.Event) (json.RawMessage, bool)

// PassThrough forwards every event payload unchanged.
func PassThrough(ev eventbus.Event) (json.RawMessage, bool) { return ev.Payload, true }

// Spec describes one named subscription.
type Spec struct {
	Name  string
	Topic string
	// Guards run in order before the subscription opens. Empty means public.
	Guards []authz.Guard
	// Prepare validates variables and builds the filter. Nil means PassThrough.
	Prepare func(ctx context.Context, req Request) (Filter, error)
}

// Registry maps subscription names to specs. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Spec) error {
	if s.Name == "" || s.Topic == "" {
		return fmt.Errorf("gateway: subscription needs a name and a topic")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.specs[s.Name]; dup {
		return fmt.Errorf("gateway: subscription %q already registered", s.Name)
	}
	r.specs[s.Name] = s
	return nil
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names lists registered subscriptions, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
