package eventbus

import (
	"context"
	"sync"
)

// Subscription is one consumer's bounded queue for one topic. The sequence it
// yields is infinite and not restartable: once closed it stays closed.
type Subscription struct {
	topic string
	ch    chan Event
	done  chan struct{}

	mu     sync.Mutex // serialises offers
	once   sync.Once
	err    error
	detach func() // set before the bus publishes s

	life  sync.Mutex // guards stop and ended
	stop  func() bool
	ended bool
}

func newSubscription(topic string, buffer int) *Subscription {
	return &Subscription{
		topic: topic,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string { return s.topic }

// C exposes the receive side of the queue for select loops.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: ErrClosed, ErrSlowConsumer or the
// context error. It is nil while the subscription is live.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Next blocks until an event arrives, the subscription ends or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	default:
	}
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.done:
		return Event{}, s.err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close unregisters the subscription before returning. Safe to call more than once.
func (s *Subscription) Close() {
	s.end(ErrClosed)
}

// bind ends s when ctx is done. If s already ended the context hook is
// released right away.
func (s *Subscription) bind(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { s.end(context.Cause(ctx)) })
	s.life.Lock()
	if s.ended {
		s.life.Unlock()
		stop()
		return
	}
	s.stop = stop
	s.life.Unlock()
}

func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.life.Lock()
		s.ended = true
		stop := s.stop
		s.stop = nil
		s.life.Unlock()

		s.err = err
		if stop != nil {
			stop()
		}
		if s.detach != nil {
			s.detach()
		}
		close(s.done)
	})
}

// offer enqueues ev without blocking. dropped is set when ev or, under
// DropOldest, an older buffered event was discarded.
func (s *Subscription) offer(ev Event, policy SlowPolicy) (delivered, dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return false, false
	default:
	}

	select {
	case s.ch <- ev:
		return true, false
	default:
	}

	if policy == Disconnect {
		return false, true
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
		return true, true
	default:
		return false, true
	}
}
