// Package eventbus is the publish/subscribe core that fans events out to
// every live subscription in this process and, with the Postgres broker, to
// every other server process.
//
// Publish is best effort and never fails the caller. Filtering by payload
// fields (room scoping) happens downstream of Subscribe, not in the broker.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Topics.
const (
	TopicMessageCreated  = "MESSAGE.CREATED"
	TopicMessageDeleted  = "MESSAGE.DELETED"
	TopicRoomCreated     = "ROOM.CREATED"
	TopicRoomDeleted     = "ROOM.DELETED"
	TopicRoomUserJoined  = "ROOM.USER_JOINED"
	TopicRoomUserLeft    = "ROOM.USER_LEFT"
	TopicEditorTyping    = "EDITOR.TYPING"
	TopicEditorChanged   = "EDITOR.CHANGED"
	TopicServerHeartbeat = "SERVER.HEARTBEAT"
)

var (
	ErrClosed       = errors.New("eventbus: closed")
	ErrSlowConsumer = errors.New("eventbus: subscriber too slow")
	ErrEmptyTopic   = errors.New("eventbus: empty topic")
)

// Event is one published payload.
type Event struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("eventbus: %s: empty payload", e.Topic)
	}
	return json.Unmarshal(e.Payload, dst)
}

// Bus is implemented by MemoryBus and PostgresBus.
type Bus interface {
	// Publish delivers payload to every subscriber of topic. Failures are
	// logged and counted, never returned.
	Publish(ctx context.Context, topic string, payload any)
	// Subscribe registers a subscription that lives until Close is called
	// or ctx is cancelled.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// SlowPolicy decides what happens when a subscriber's buffer is full.
type SlowPolicy int

const (
	// DropOldest discards the oldest buffered event to make room.
	DropOldest SlowPolicy = iota
	// Disconnect closes the subscription with ErrSlowConsumer.
	Disconnect
)

func (p SlowPolicy) String() string {
	if p == Disconnect {
		return "disconnect"
	}
	return "drop_oldest"
}

// ParseSlowPolicy accepts "drop_oldest" (default for empty input) and "disconnect".
func ParseSlowPolicy(s string) (SlowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	}
	return DropOldest, fmt.Errorf("eventbus: unknown slow policy %q", s)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, errors.New("eventbus: payload is not valid JSON")
		}
		return json.RawMessage(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

var (
	_ Bus = (*MemoryBus)(nil)
	_ Bus = (*PostgresBus)(nil)
)
