// Package app wires the codetalk server: config, logging, storage, the event
// bus, the HTTP API and the WebSocket gateway, and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"codetalk/cmd/internal/auth/csrf"
	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/chat"
	"codetalk/cmd/internal/chat/api"
	"codetalk/cmd/internal/metrics"
	"codetalk/cmd/internal/realtime/coalescer"
	"codetalk/cmd/internal/realtime/eventbus"
	"codetalk/cmd/internal/realtime/gateway"
	"codetalk/cmd/security/password"
)

const (
	attemptSweepEvery = time.Minute
	typingSweepEvery  = time.Minute
)

// broker is a bus that needs a running listener, such as PostgresBus.
type broker interface {
	Run(ctx context.Context) error
}

// App is one server process.
type App struct {
	cfg Config
	log *slog.Logger

	reg     *prometheus.Registry
	metrics *metrics.Metrics

	pool     *pgxpool.Pool
	store    chat.Store
	memBus   *eventbus.MemoryBus
	broker   broker
	bus      eventbus.Bus
	attempts *session.MemoryAttemptStore

	auth    *session.Authority
	typing  *coalescer.Coalescer
	svc     *chat.Service
	gateway *gateway.Gateway
	api     *api.Handler

	draining atomic.Bool
}

// New builds every component. With an empty DatabaseURL everything is in
// memory and the bus stays inside this process.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	wsCfg, err := gateway.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	wsCfg.CookieName = sessCfg.AccessCookieName
	if err := ValidateSecurityConfig(cfg, wsCfg); err != nil {
		return nil, err
	}
	policy, err := eventbus.ParseSlowPolicy(cfg.BusSlowPolicy)
	if err != nil {
		return nil, err
	}
	hasher, err := password.LoadHasherFromEnv()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, reg: prometheus.NewRegistry()}
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.reg)

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	a.memBus = eventbus.NewMemoryBus(eventbus.Config{Buffer: cfg.BusBuffer, Policy: policy}, log, a.metrics)
	a.bus = a.memBus
	if a.pool != nil {
		pg := eventbus.NewPostgresBus(a.pool, a.memBus, eventbus.PostgresConfig{Channel: cfg.BusChannel}, log, a.metrics)
		a.bus, a.broker = pg, pg
	}

	var authOpts []session.Option
	if cfg.AttemptsShared {
		shared, err := session.NewPostgresAttemptStore(a.pool, cfg.DBSchema)
		if err != nil {
			a.closeStorage()
			return nil, err
		}
		authOpts = append(authOpts, session.WithAttemptStore(shared))
		log.Info("auth.attempts.shared")
	} else {
		a.attempts = session.NewMemoryAttemptStore()
		authOpts = append(authOpts, session.WithAttemptStore(a.attempts))
	}
	a.auth, err = session.NewAuthority(sessCfg, log, authOpts...)
	if err != nil {
		a.closeStorage()
		return nil, err
	}

	pub := chat.NewPublisher(a.bus, log)
	a.typing = coalescer.New(pub, coalescer.Config{Delay: cfg.TypingDelay}, log, coalescer.WithMetrics(a.metrics))

	a.svc, err = chat.NewService(chat.Deps{
		Store:     a.store,
		Auth:      a.auth,
		Hasher:    hasher,
		Publisher: pub,
		Typing:    a.typing,
		Log:       log,
	})
	if err != nil {
		a.closeStorage()
		return nil, err
	}

	registry, err := chat.NewRegistry()
	if err != nil {
		a.closeStorage()
		return nil, err
	}
	a.gateway, err = gateway.New(wsCfg, log, a.bus, a.auth, registry, a.metrics)
	if err != nil {
		a.closeStorage()
		return nil, err
	}

	guard := csrf.New(csrf.Config{
		CookieName:     csrf.DefaultCookieName,
		HeaderName:     csrf.DefaultHeaderName,
		Env:            cfg.Env,
		SkipValidation: cfg.CSRFSkipValidation,
	}, log)
	var auditor api.Auditor = api.LogAuditor{Log: log}
	if a.pool != nil {
		pa, err := api.NewPostgresAuditor(a.pool, cfg.DBSchema, log)
		if err != nil {
			a.closeStorage()
			return nil, err
		}
		auditor = pa
	}
	a.api = api.New(a.svc, a.auth, guard, api.NewClientLimiter(cfg.APIRatePerMinute, cfg.TrustProxy), log,
		api.WithAuditor(auditor),
		api.WithTrustProxy(cfg.TrustProxy),
	)

	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		a.store = chat.NewMemoryStore()
		return nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return err
	}
	if a.cfg.DBAutoMigrate {
		if err := Migrate(ctx, pool, a.cfg.DBSchema, a.log); err != nil {
			pool.Close()
			return err
		}
	}
	store, err := chat.NewPostgresStore(pool, chat.WithSchema(a.cfg.DBSchema))
	if err != nil {
		pool.Close()
		return err
	}
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	a.pool, a.store = pool, store
	return nil
}

func (a *App) closeStorage() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.routes() }

// Run listens on cfg.HTTPAddr and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.closeStorage()
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server and the background workers on ln. When ctx ends
// it stops accepting, drains HTTP, closes WebSocket clients within the grace
// period, then stops the broker listener and releases the bus, the
// coalescer and the pool. The listener keeps running until the sockets are
// gone so draining clients still get remote events.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	a.log.Info("server.start", "addr", ln.Addr().String(), "env", a.cfg.Env, "db_enabled", a.pool != nil)

	g, gctx := errgroup.WithContext(ctx)
	brokerCtx, stopBroker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBroker()

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	if a.broker != nil {
		g.Go(func() error { return a.broker.Run(brokerCtx) })
	}
	g.Go(func() error { return a.svc.RunHeartbeat(gctx, a.cfg.HeartbeatEvery) })
	if a.attempts != nil {
		g.Go(func() error { return a.sweepAttempts(gctx) })
	}
	g.Go(func() error { return a.sweepTyping(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(srv, stopBroker)
	})

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) shutdown(srv *http.Server, stopBroker context.CancelFunc) error {
	a.log.Info("server.stop", "grace", a.cfg.ShutdownTimeout.String())
	a.draining.Store(true)
	a.gateway.StopAccepting()

	ctx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 30*time.Second))
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		errs = append(errs, err)
	}
	if err := a.gateway.Shutdown(ctx); err != nil {
		a.log.Warn("ws.shutdown.forced", "err", err)
	}
	a.typing.Close()
	stopBroker()
	if err := a.bus.Close(); err != nil {
		a.log.Error("bus.close.fail", "err", err)
	}
	a.closeStorage()
	return errors.Join(errs...)
}

func (a *App) sweepAttempts(ctx context.Context) error {
	window := a.auth.Config().AttemptWindow
	t := time.NewTicker(attemptSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if n := a.attempts.Sweep(now, window); n > 0 {
				a.log.Debug("auth.attempts.sweep", "removed", n)
			}
		}
	}
}

func (a *App) sweepTyping(ctx context.Context) error {
	t := time.NewTicker(typingSweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if n := a.typing.Sweep(now); n > 0 {
				a.log.Debug("editor.sessions.sweep", "removed", n)
			}
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
