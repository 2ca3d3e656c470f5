package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	v1 "codetalk/shared/contracts/realtime/v1"
)

func setAuthEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CODETALK_JWT_SECRET", "app-access-secret-0123456789abcdef0123456")
	t.Setenv("CODETALK_JWT_REFRESH_SECRET", "app-refresh-secret-0123456789abcdef012345")
}

func testConfig() Config {
	cfg := LoadConfig()
	cfg.Env = "test"
	cfg.DatabaseURL = ""
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.HeartbeatEvery = time.Hour
	return cfg
}

func TestApp_ServeAndShutdown(t *testing.T) {
	setAuthEnv(t)

	a, err := New(context.Background(), testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	res, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var health healthResponse
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK || health.Status != "ok" || health.Database != "disabled" {
		t.Fatalf("unexpected health: %d %+v", res.StatusCode, health)
	}
	if res.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	res, err = http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", res.StatusCode)
	}

	res, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	for _, want := range []string{"go_goroutines", `codetalk_http_requests_total{method="GET",route="GET /health"`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}

	res, err = http.Get(base + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous /api/me status=%d", res.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
}

// recordingBroker notes how many WebSocket clients were still connected
// when its listener was told to stop.
type recordingBroker struct {
	app     *App
	stopped chan int
}

func (b *recordingBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	b.stopped <- b.app.gateway.Connections()
	return nil
}

func TestApp_BrokerOutlivesWebSocketClients(t *testing.T) {
	setAuthEnv(t)

	a, err := New(context.Background(), testConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := &recordingBroker{app: a, stopped: make(chan int, 1)}
	a.broker = b

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	origin := "http://" + ln.Addr().String()
	c, resp, err := websocket.Dial(dialCtx, "ws://"+ln.Addr().String()+"/graphql-ws", &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Origin": {origin}},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()
	go func() {
		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for a.gateway.Connections() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("connection never tracked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case n := <-b.stopped:
		if n != 0 {
			t.Fatalf("broker stopped with %d clients still connected", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("broker never stopped")
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
}

func TestNew_RejectsMissingSecrets(t *testing.T) {
	t.Setenv("CODETALK_JWT_SECRET", "")
	t.Setenv("CODETALK_JWT_REFRESH_SECRET", "")

	if _, err := New(context.Background(), testConfig(), discardLogger()); err == nil {
		t.Fatalf("expected config error without JWT secrets")
	}
}

func TestNew_RejectsUnknownSlowPolicy(t *testing.T) {
	setAuthEnv(t)
	cfg := testConfig()
	cfg.BusSlowPolicy = "block"

	if _, err := New(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected error for unknown slow policy")
	}
}
