package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"codetalk/cmd/internal/metrics"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestBus(cfg Config) *MemoryBus {
	return NewMemoryBus(cfg, discardLogger(), metrics.New(prometheus.NewRegistry()))
}

type msg struct {
	N    int    `json:"n"`
	Room *int64 `json:"roomId"`
}

func next(t *testing.T, s *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestMemoryBus_FanOutInOrder(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{})
	ctx := context.Background()

	a, err := b.Subscribe(ctx, TopicMessageCreated)
	require.NoError(t, err)
	c, err := b.Subscribe(ctx, TopicMessageCreated)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, TopicRoomCreated)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish(ctx, TopicMessageCreated, msg{N: i})
	}

	for _, s := range []*Subscription{a, c} {
		for i := 0; i < 5; i++ {
			ev := next(t, s)
			require.Equal(t, TopicMessageCreated, ev.Topic)
			var m msg
			require.NoError(t, ev.Decode(&m))
			require.Equal(t, i, m.N)
		}
	}

	select {
	case ev := <-other.C():
		t.Fatalf("unexpected cross-topic delivery: %+v", ev)
	default:
	}
}

func TestMemoryBus_CloseUnregistersSynchronously(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{})
	s, err := b.Subscribe(context.Background(), TopicRoomUserJoined)
	require.NoError(t, err)
	require.Equal(t, 1, b.Subscribers(TopicRoomUserJoined))

	s.Close()
	require.Equal(t, 0, b.Subscribers(TopicRoomUserJoined))
	require.ErrorIs(t, s.Err(), ErrClosed)

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	s.Close()
}

func TestMemoryBus_ContextCancelEndsSubscription(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	s, err := b.Subscribe(ctx, TopicEditorTyping)
	require.NoError(t, err)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not released after cancel")
	}
	require.ErrorIs(t, s.Err(), context.Canceled)
	require.Equal(t, 0, b.Subscribers(TopicEditorTyping))
}

func TestMemoryBus_DropOldestKeepsNewest(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{Buffer: 3, Policy: DropOldest})
	s, err := b.Subscribe(context.Background(), TopicEditorTyping)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), TopicEditorTyping, msg{N: i})
	}

	var got []int
	for i := 0; i < 3; i++ {
		var m msg
		require.NoError(t, next(t, s).Decode(&m))
		got = append(got, m.N)
	}
	require.Equal(t, []int{7, 8, 9}, got)
	require.NoError(t, s.Err())
}

func TestMemoryBus_DisconnectSlowConsumer(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{Buffer: 2, Policy: Disconnect})
	slow, err := b.Subscribe(context.Background(), TopicMessageCreated)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), TopicMessageCreated, msg{N: i})
	}

	<-slow.Done()
	require.ErrorIs(t, slow.Err(), ErrSlowConsumer)
	require.Equal(t, 0, b.Subscribers(TopicMessageCreated))
}

func TestMemoryBus_CloseEndsEverything(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{})
	s, err := b.Subscribe(context.Background(), TopicRoomDeleted)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	<-s.Done()
	require.ErrorIs(t, s.Err(), ErrClosed)

	_, err = b.Subscribe(context.Background(), TopicRoomDeleted)
	require.ErrorIs(t, err, ErrClosed)

	b.Publish(context.Background(), TopicRoomDeleted, msg{})
	require.NoError(t, b.Close())
}

func TestMemoryBus_PublishNeverFails(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{})
	s, err := b.Subscribe(context.Background(), TopicMessageDeleted)
	require.NoError(t, err)

	b.Publish(context.Background(), TopicMessageDeleted, make(chan int))
	b.Publish(context.Background(), "", msg{})
	b.Publish(context.Background(), TopicMessageDeleted, json.RawMessage(`{"n":1}`))

	var m msg
	require.NoError(t, next(t, s).Decode(&m))
	require.Equal(t, 1, m.N)

	_, err = b.Subscribe(context.Background(), " ")
	require.ErrorIs(t, err, ErrEmptyTopic)
}

func TestMemoryBus_ConcurrentPublishersAndSubscribers(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{Buffer: 1024})
	const publishers, perPublisher = 4, 50

	subs := make([]*Subscription, 8)
	for i := range subs {
		s, err := b.Subscribe(context.Background(), TopicMessageCreated)
		require.NoError(t, err)
		subs[i] = s
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(context.Background(), TopicMessageCreated, msg{N: p*1000 + i})
			}
		}(p)
	}
	wg.Wait()

	for _, s := range subs {
		last := map[int]int{}
		for i := 0; i < publishers*perPublisher; i++ {
			var m msg
			require.NoError(t, next(t, s).Decode(&m))
			p, n := m.N/1000, m.N%1000
			if prev, ok := last[p]; ok {
				require.Greater(t, n, prev, fmt.Sprintf("publisher %d out of order", p))
			}
			last[p] = n
		}
	}
}

func TestMemoryBus_DisconnectRacesSubscribe(t *testing.T) {
	t.Parallel()

	b := newTestBus(Config{Buffer: 1, Policy: Disconnect})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish(context.Background(), TopicMessageCreated, msg{})
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		s, err := b.Subscribe(ctx, TopicMessageCreated)
		require.NoError(t, err)
		cancel()
		<-s.Done()
	}
	close(stop)
	wg.Wait()

	require.Equal(t, 0, b.Subscribers(TopicMessageCreated))
}

func TestSubscription_BindAfterEnd(t *testing.T) {
	t.Parallel()

	s := newSubscription(TopicRoomCreated, 1)
	s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s.bind(ctx)
	cancel()

	<-s.Done()
	require.ErrorIs(t, s.Err(), ErrClosed)
}

func TestParseSlowPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseSlowPolicy("")
	require.NoError(t, err)
	require.Equal(t, DropOldest, p)

	p, err = ParseSlowPolicy("DISCONNECT")
	require.NoError(t, err)
	require.Equal(t, Disconnect, p)

	_, err = ParseSlowPolicy("block")
	require.Error(t, err)
}
