package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"codetalk/cmd/internal/ids"
	"codetalk/cmd/internal/metrics"
)

const (
	DefaultChannel = "codetalk_events"

	// Postgres rejects NOTIFY payloads of 8000 bytes or more.
	maxNotifyPayload = 7999
)

// PostgresConfig tunes the broker.
type PostgresConfig struct {
	Channel      string
	QueueSize    int
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c PostgresConfig) normalize() PostgresConfig {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 250 * time.Millisecond
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 10 * time.Second
	}
	return c
}

type wireEvent struct {
	Origin  string          `json:"o"`
	Topic   string          `json:"t"`
	Payload json.RawMessage `json:"p"`
}

// PostgresBus spans processes with LISTEN/NOTIFY. Local subscribers get an
// event directly at publish time; the copy that comes back from the broker
// carries this instance's origin and is ignored. Other instances deliver it
// to their own local subscribers.
//
// Run must be started for cross-process delivery. Publish never blocks: the
// outbound queue is bounded and overflow is dropped and counted.
type PostgresBus struct {
	local   *MemoryBus
	pool    *pgxpool.Pool
	cfg     PostgresConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	origin  string

	mu     sync.RWMutex
	out    chan wireEvent
	closed bool
	done   chan struct{}
}

func NewPostgresBus(pool *pgxpool.Pool, local *MemoryBus, cfg PostgresConfig, log *slog.Logger, m *metrics.Metrics) *PostgresBus {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalize()
	return &PostgresBus{
		local:   local,
		pool:    pool,
		cfg:     cfg,
		log:     log,
		metrics: m,
		origin:  ids.New(time.Now()),
		out:     make(chan wireEvent, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

func (b *PostgresBus) Publish(ctx context.Context, topic string, payload any) {
	raw, err := encodePayload(payload)
	if err != nil {
		b.log.Error("bus.publish.encode_fail", "topic", topic, "err", err)
		b.metrics.BusDropped(topic, "encode")
		return
	}

	b.local.Publish(ctx, topic, raw)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.out <- wireEvent{Origin: b.origin, Topic: topic, Payload: raw}:
	default:
		b.log.Warn("bus.publish.drop", "topic", topic, "reason", "broker_queue_full")
		b.metrics.BusDropped(topic, "broker_queue_full")
	}
}

func (b *PostgresBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return b.local.Subscribe(ctx, topic)
}

// Run drives the publisher and the listener until ctx is done or Close is called.
func (b *PostgresBus) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.publishLoop(ctx) })
	g.Go(func() error { return b.listenLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops outbound delivery, ends Run and closes every local subscription.
func (b *PostgresBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	return b.local.Close()
}

func (b *PostgresBus) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.out:
			b.notify(ctx, ev)
		}
	}
}

func (b *PostgresBus) notify(ctx context.Context, ev wireEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		b.metrics.BusDropped(ev.Topic, "encode")
		return
	}
	if len(body) > maxNotifyPayload {
		b.log.Warn("bus.publish.drop", "topic", ev.Topic, "reason", "payload_too_large", "bytes", len(body))
		b.metrics.BusDropped(ev.Topic, "payload_too_large")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, b.cfg.Channel, string(body)); err != nil {
		b.log.Warn("bus.publish.broker_fail", "topic", ev.Topic, "err", err)
		b.metrics.BusDropped(ev.Topic, "broker_error")
	}
}

func (b *PostgresBus) listenLoop(ctx context.Context) error {
	backoff := b.cfg.ReconnectMin
	for {
		connected, err := b.listen(ctx)
		b.metrics.BrokerConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = b.cfg.ReconnectMin
		}
		b.log.Warn("bus.listen.disconnected", "err", err, "retry_in", backoff.String())

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff *= 2
		if backoff > b.cfg.ReconnectMax {
			backoff = b.cfg.ReconnectMax
		}
	}
}

// listen holds one dedicated connection in LISTEN mode. The connection is
// taken out of the pool so its session state never leaks to other callers.
func (b *PostgresBus) listen(ctx context.Context) (bool, error) {
	pc, err := b.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	conn := pc.Hijack()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, `LISTEN `+pgx.Identifier{b.cfg.Channel}.Sanitize()); err != nil {
		return false, err
	}
	b.metrics.BrokerConnected(true)
	b.log.Info("bus.listen.ready", "channel", b.cfg.Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		b.receive(n.Payload)
	}
}

func (b *PostgresBus) receive(payload string) {
	var ev wireEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.log.Warn("bus.receive.decode_fail", "err", err)
		return
	}
	if ev.Origin == b.origin || ev.Topic == "" {
		return
	}
	b.local.Deliver(Event{Topic: ev.Topic, Payload: ev.Payload})
}
