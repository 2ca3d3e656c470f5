package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codetalk/cmd/internal/db/dbtest"
)

func TestPostgresBus_ReceiveSkipsOwnOrigin(t *testing.T) {
	t.Parallel()

	local := newTestBus(Config{})
	b := NewPostgresBus(nil, local, PostgresConfig{}, discardLogger(), nil)

	s, err := b.Subscribe(context.Background(), TopicMessageCreated)
	require.NoError(t, err)

	own, _ := json.Marshal(wireEvent{Origin: b.origin, Topic: TopicMessageCreated, Payload: json.RawMessage(`{"n":1}`)})
	foreign, _ := json.Marshal(wireEvent{Origin: "other", Topic: TopicMessageCreated, Payload: json.RawMessage(`{"n":2}`)})
	b.receive(string(own))
	b.receive("not json")
	b.receive(string(foreign))

	var m msg
	require.NoError(t, next(t, s).Decode(&m))
	require.Equal(t, 2, m.N)

	select {
	case ev := <-s.C():
		t.Fatalf("unexpected extra delivery %+v", ev)
	default:
	}
}

func TestPostgresBus_PublishDeliversLocallyWithoutBroker(t *testing.T) {
	t.Parallel()

	local := newTestBus(Config{})
	b := NewPostgresBus(nil, local, PostgresConfig{QueueSize: 1}, discardLogger(), nil)

	s, err := b.Subscribe(context.Background(), TopicRoomCreated)
	require.NoError(t, err)

	// The outbound queue holds one event; the rest are dropped, never blocking.
	for i := 0; i < 3; i++ {
		b.Publish(context.Background(), TopicRoomCreated, msg{N: i})
	}
	for i := 0; i < 3; i++ {
		var m msg
		require.NoError(t, next(t, s).Decode(&m))
		require.Equal(t, i, m.N)
	}

	require.NoError(t, b.Close())
	b.Publish(context.Background(), TopicRoomCreated, msg{})
	<-s.Done()
}

func TestPostgresBus_OversizedNotifyIsDropped(t *testing.T) {
	t.Parallel()

	b := NewPostgresBus(nil, newTestBus(Config{}), PostgresConfig{}, discardLogger(), nil)
	big, _ := json.Marshal(strings.Repeat("x", 9000))
	// nil pool: reaching Exec would panic, so returning proves the size guard.
	b.notify(context.Background(), wireEvent{Origin: b.origin, Topic: TopicEditorTyping, Payload: big})
}

func TestPostgresBus_CrossInstanceDelivery(t *testing.T) {
	db := dbtest.Open(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := PostgresConfig{Channel: db.Schema + "_events"}
	a := NewPostgresBus(db.Pool, newTestBus(Config{}), cfg, discardLogger(), nil)
	b := NewPostgresBus(db.Pool, newTestBus(Config{}), cfg, discardLogger(), nil)
	go func() { _ = a.Run(ctx) }()
	go func() { _ = b.Run(ctx) }()
	defer a.Close()
	defer b.Close()

	s, err := b.Subscribe(ctx, TopicMessageCreated)
	require.NoError(t, err)

	// LISTEN is established asynchronously; publish until the event crosses.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		a.Publish(ctx, TopicMessageCreated, msg{N: 42})

		waitCtx, waitCancel := context.WithTimeout(ctx, 250*time.Millisecond)
		ev, err := s.Next(waitCtx)
		waitCancel()
		if err == nil {
			var m msg
			require.NoError(t, ev.Decode(&m))
			require.Equal(t, 42, m.N)
			return
		}
	}
	t.Fatal("event did not cross instances")
}
