package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"codetalk/cmd/internal/metrics"
)

const DefaultBuffer = 256

// Config tunes per-subscriber buffering.
type Config struct {
	Buffer int
	Policy SlowPolicy
}

func (c Config) normalize() Config {
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	return c
}

// MemoryBus fans events out to subscribers in this process. Events one
// goroutine publishes to a topic reach each subscriber in publish order.
type MemoryBus struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewMemoryBus(cfg Config, log *slog.Logger, m *metrics.Metrics) *MemoryBus {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBus{
		cfg:     cfg.normalize(),
		log:     log,
		metrics: m,
		subs:    make(map[string]map[*Subscription]struct{}),
	}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, payload any) {
	if strings.TrimSpace(topic) == "" {
		b.log.Warn("bus.publish.drop", "reason", "empty_topic")
		return
	}
	raw, err := encodePayload(payload)
	if err != nil {
		b.log.Error("bus.publish.encode_fail", "topic", topic, "err", err)
		b.metrics.BusDropped(topic, "encode")
		return
	}
	b.metrics.BusPublished(topic)
	b.Deliver(Event{Topic: topic, Payload: raw})
}

// Deliver hands an already-encoded event to local subscribers.
func (b *MemoryBus) Deliver(ev Event) {
	var slow []*Subscription

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	for s := range b.subs[ev.Topic] {
		delivered, dropped := s.offer(ev, b.cfg.Policy)
		if delivered {
			b.metrics.BusDelivered(ev.Topic)
		}
		if dropped {
			b.metrics.BusDropped(ev.Topic, "slow_"+b.cfg.Policy.String())
			if b.cfg.Policy == Disconnect {
				slow = append(slow, s)
			}
		}
	}
	b.mu.RUnlock()

	for _, s := range slow {
		b.log.Warn("bus.subscriber.disconnect", "topic", ev.Topic, "reason", "slow_consumer")
		s.end(ErrSlowConsumer)
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := newSubscription(topic, b.cfg.Buffer)
	s.detach = func() { b.remove(s) }

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	set := b.subs[topic]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.subs[topic] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	b.metrics.BusSubscribers(1)
	s.bind(ctx)
	return s, nil
}

func (b *MemoryBus) remove(s *Subscription) {
	b.mu.Lock()
	set := b.subs[s.topic]
	_, ok := set[s]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.topic)
	}
	b.mu.Unlock()

	if ok {
		b.metrics.BusSubscribers(-1)
	}
}

// Subscribers returns the live subscription count for topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close ends every subscription with ErrClosed. Later Subscribe calls fail.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.end(ErrClosed)
	}
	return nil
}
