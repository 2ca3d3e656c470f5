// Package coalescer debounces the live-edit stream before it reaches the
// event bus.
//
// Growth updates are held for one short delay and only the latest value is
// published. Shrinking updates (deletions) publish at once and cancel any
// pending timer so remote views never miss a delete.
package coalescer

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"codetalk/cmd/internal/metrics"
	"codetalk/cmd/internal/realtime/eventbus"
)

const (
	DefaultDelay     = 16 * time.Millisecond
	DefaultMaxLength = 50_000
	DefaultIdleTTL   = 10 * time.Minute
)

// Publisher is the subset of eventbus.Bus the coalescer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// TypingCode is the payload published on the editor topic.
type TypingCode struct {
	Body string `json:"body"`
}

// Payload wraps TypingCode the way subscribers receive it.
type Payload struct {
	TypingCode TypingCode `json:"typingCode"`
}

type Config struct {
	Delay     time.Duration
	MaxLength int
	Topic     string
	// IdleTTL is how long a session with nothing pending is remembered
	// before Sweep drops it.
	IdleTTL time.Duration
}

func (c Config) normalize() Config {
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.Topic == "" {
		c.Topic = eventbus.TopicEditorTyping
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = DefaultIdleTTL
	}
	return c
}

// AfterFunc schedules f after d and returns a stop function. It matches
// time.AfterFunc so tests can substitute a manual clock.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type entry struct {
	last    string
	pending string
	stop    func() bool
	gen     uint64
	seen    time.Time
}

// Coalescer holds per-session state. At most one timer is pending per key.
type Coalescer struct {
	pub     Publisher
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	after   AfterFunc
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type Option func(*Coalescer)

// WithAfterFunc replaces the timer source.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Coalescer) {
		if f != nil {
			c.after = f
		}
	}
}

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(c *Coalescer) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coalescer) { c.metrics = m }
}

func New(pub Publisher, cfg Config, log *slog.Logger, opts ...Option) *Coalescer {
	if log == nil {
		log = slog.Default()
	}
	c := &Coalescer{
		pub:     pub,
		cfg:     cfg.normalize(),
		log:     log,
		after:   realAfterFunc,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit records the latest editor content for key and returns the value
// that will be (or was) published after truncation.
func (c *Coalescer) Submit(ctx context.Context, key, body string) string {
	body = truncate(body, c.cfg.MaxLength)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return body
	}

	e := c.entries[key]
	if e == nil {
		e = &entry{}
		c.entries[key] = e
	}
	e.seen = c.now()

	if utf8.RuneCountInString(body) < utf8.RuneCountInString(e.last) {
		c.cancelLocked(e)
		c.publishLocked(ctx, e, body, "immediate")
		return body
	}

	e.pending = body
	c.cancelLocked(e)
	gen := e.gen
	e.stop = c.after(c.cfg.Delay, func() { c.fire(key, gen) })
	return body
}

func (c *Coalescer) fire(key string, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key]
	if c.closed || e == nil || e.gen != gen || e.stop == nil {
		return
	}
	e.stop = nil
	if e.pending == e.last {
		c.metrics.CoalescerPublish("skipped")
		return
	}
	c.publishLocked(context.Background(), e, e.pending, "timer")
}

func (c *Coalescer) cancelLocked(e *entry) {
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
	e.gen++
}

func (c *Coalescer) publishLocked(ctx context.Context, e *entry, body, trigger string) {
	e.last = body
	e.pending = body
	c.pub.Publish(ctx, c.cfg.Topic, Payload{TypingCode: TypingCode{Body: body}})
	c.metrics.CoalescerPublish(trigger)
}

// Forget drops key's state, cancelling any pending publish.
func (c *Coalescer) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[key]; e != nil {
		c.cancelLocked(e)
		delete(c.entries, key)
	}
}

// Sweep drops sessions idle for at least IdleTTL with no timer pending and
// returns how many it removed. A dropped session starts over on its next
// update, so its first change is debounced rather than treated as a delete.
func (c *Coalescer) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.stop == nil && now.Sub(e.seen) >= c.cfg.IdleTTL {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// IdleTTL returns the configured idle lifetime.
func (c *Coalescer) IdleTTL() time.Duration { return c.cfg.IdleTTL }

// Len returns the number of tracked sessions.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close cancels every pending timer. Later Submit calls publish nothing.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for k, e := range c.entries {
		c.cancelLocked(e)
		delete(c.entries, k)
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
