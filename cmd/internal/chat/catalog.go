package chat

import (
	"context"
	"encoding/json"

	"codetalk/cmd/internal/auth/authz"
	"codetalk/cmd/internal/realtime/coalescer"
	"codetalk/cmd/internal/realtime/eventbus"
	"codetalk/cmd/internal/realtime/gateway"
)

// Subscriptions returns the live catalog served over the gateway.
func Subscriptions() []gateway.Spec {
	authOnly := []authz.Guard{authz.IsAuthenticated}
	return []gateway.Spec{
		{Name: "messageCreated", Topic: eventbus.TopicMessageCreated, Guards: authOnly, Prepare: prepareMessageCreated},
		{Name: "messageDeleted", Topic: eventbus.TopicMessageDeleted, Guards: authOnly},
		{Name: "roomCreated", Topic: eventbus.TopicRoomCreated},
		{Name: "roomDeleted", Topic: eventbus.TopicRoomDeleted},
		{Name: "roomUserJoined", Topic: eventbus.TopicRoomUserJoined},
		{Name: "roomUserLeft", Topic: eventbus.TopicRoomUserLeft},
		{Name: "typingCode", Topic: eventbus.TopicEditorTyping, Prepare: prepareTypingCode},
		{Name: "editorChanged", Topic: eventbus.TopicEditorChanged},
		{Name: "heartbeat", Topic: eventbus.TopicServerHeartbeat},
	}
}

// NewRegistry builds a gateway registry holding Subscriptions.
func NewRegistry() (*gateway.Registry, error) {
	return gateway.NewRegistry(Subscriptions()...)
}

func prepareMessageCreated(_ context.Context, req gateway.Request) (gateway.Filter, error) {
	scope, err := ParseRoomScope(req.Variables)
	if err != nil {
		return nil, err
	}
	return func(ev eventbus.Event) (json.RawMessage, bool) {
		var e MessageCreatedEvent
		if err := ev.Decode(&e); err != nil {
			return nil, false
		}
		return ev.Payload, scope.Match(e.Message.RoomID)
	}, nil
}

// typingCode delivers the inner {body} object.
func prepareTypingCode(context.Context, gateway.Request) (gateway.Filter, error) {
	return func(ev eventbus.Event) (json.RawMessage, bool) {
		var p coalescer.Payload
		if err := ev.Decode(&p); err != nil {
			return nil, false
		}
		raw, err := json.Marshal(p.TypingCode)
		if err != nil {
			return nil, false
		}
		return raw, true
	}, nil
}
