// Package gateway is the WebSocket transport for live subscriptions.
//
// Each connection moves CONNECTING -> AUTHENTICATING -> ACTIVE -> CLOSED, or
// to ERROR and then CLOSED. A missing or bad token never rejects the
// handshake: the connection becomes ACTIVE without identity and each
// subscription's guards decide what it may open.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/metrics"
	"codetalk/cmd/internal/realtime/eventbus"
	v1 "codetalk/shared/contracts/realtime/v1"
)

// Verifier checks access tokens. *session.Authority satisfies it.
type Verifier interface {
	VerifyToken(token string, isRefresh bool) (*session.Claims, error)
}

// Gateway accepts WebSocket connections and runs their subscriptions.
type Gateway struct {
	cfg      Config
	log      *slog.Logger
	bus      eventbus.Bus
	auth     Verifier
	registry *Registry
	metrics  *metrics.Metrics
	patterns []string

	mu       sync.Mutex
	conns    map[*connection]struct{}
	draining bool
	wg       sync.WaitGroup
}

// New builds a Gateway. bus, auth and registry are required.
func New(cfg Config, log *slog.Logger, bus eventbus.Bus, auth Verifier, registry *Registry, m *metrics.Metrics) (*Gateway, error) {
	if bus == nil || auth == nil || registry == nil {
		return nil, errors.New("gateway: bus, verifier and registry are required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalize()
	return &Gateway{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		auth:     auth,
		registry: registry,
		metrics:  m,
		patterns: originPatterns(cfg.AllowedOrigins),
		conns:    make(map[*connection]struct{}),
	}, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if g.isDraining() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	if sp := ws.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	c := newConnection(g, ws, cookieToken(r, g.cfg.CookieName))
	if !g.track(c) {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer g.untrack(c)

	// The request context ends when the handler returns; the connection
	// outlives nothing else.
	c.run(r.Context())
}

func cookieToken(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (g *Gateway) track(c *connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draining {
		return false
	}
	g.conns[c] = struct{}{}
	g.wg.Add(1)
	g.metrics.WSConnections(1)
	return true
}

func (g *Gateway) untrack(c *connection) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
	g.metrics.WSConnections(-1)
	g.wg.Done()
}

func (g *Gateway) isDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

// StopAccepting makes new upgrade requests fail with 503.
func (g *Gateway) StopAccepting() {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()
}

// Connections returns the number of live connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown stops accepting, asks every connection to close and waits until
// they are gone or ctx ends. Connections still open at that point are closed
// without a handshake and ctx.Err() is returned.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.StopAccepting()

	g.mu.Lock()
	live := make([]*connection, 0, len(g.conns))
	for c := range g.conns {
		live = append(live, c)
	}
	g.mu.Unlock()

	g.log.Info("ws.shutdown.begin", "connections", len(live))
	for _, c := range live {
		go c.shutdown(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.log.Info("ws.shutdown.done")
		return nil
	case <-ctx.Done():
	}

	g.mu.Lock()
	forced := 0
	for c := range g.conns {
		c.forceClose()
		forced++
	}
	g.mu.Unlock()
	g.log.Warn("ws.shutdown.forced", "connections", forced)

	select {
	case <-done:
	case <-time.After(closeGrace):
	}
	return ctx.Err()
}
