package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"codetalk/cmd/internal/realtime/coalescer"
	"codetalk/cmd/internal/realtime/eventbus"
	"codetalk/cmd/internal/realtime/gateway"
)

func messageEvent(t *testing.T, roomID *int64) eventbus.Event {
	t.Helper()
	raw, err := json.Marshal(MessageCreatedEvent{Message: Message{ID: 1, Text: "x", RoomID: roomID}})
	require.NoError(t, err)
	return eventbus.Event{Topic: eventbus.TopicMessageCreated, Payload: raw}
}

func TestMessageCreatedFilter(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry()
	require.NoError(t, err)
	spec, ok := reg.Lookup("messageCreated")
	require.True(t, ok)
	require.NotEmpty(t, spec.Guards, "messageCreated is authenticated-only")

	five, seven := int64(5), int64(7)
	cases := []struct {
		name   string
		vars   string
		global bool
		room5  bool
		room7  bool
	}{
		{name: "absent", vars: `{}`, global: true, room5: true, room7: true},
		{name: "no variables", vars: ``, global: true, room5: true, room7: true},
		{name: "null is global feed", vars: `{"roomId":null}`, global: true},
		{name: "room 5", vars: `{"roomId":5}`, room5: true},
		{name: "room 5 as string", vars: `{"roomId":"5"}`, room5: true},
	}
	for _, tc := range cases {
		filter, err := spec.Prepare(context.Background(), gateway.Request{Variables: json.RawMessage(tc.vars)})
		require.NoError(t, err, tc.name)

		_, got := filter(messageEvent(t, nil))
		require.Equal(t, tc.global, got, "%s: global", tc.name)
		_, got = filter(messageEvent(t, &five))
		require.Equal(t, tc.room5, got, "%s: room 5", tc.name)
		_, got = filter(messageEvent(t, &seven))
		require.Equal(t, tc.room7, got, "%s: room 7", tc.name)
	}

	for _, bad := range []string{`{"roomId":-1}`, `{"roomId":"abc"}`, `[1]`, `{"roomId":1.5}`} {
		_, err := spec.Prepare(context.Background(), gateway.Request{Variables: json.RawMessage(bad)})
		require.Error(t, err, bad)
	}
}

func TestCatalogGuards(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry()
	require.NoError(t, err)

	guarded := map[string]bool{}
	for _, s := range Subscriptions() {
		guarded[s.Name] = len(s.Guards) > 0
	}
	require.Equal(t, map[string]bool{
		"messageCreated": true,
		"messageDeleted": true,
		"roomCreated":    false,
		"roomDeleted":    false,
		"roomUserJoined": false,
		"roomUserLeft":   false,
		"typingCode":     false,
		"editorChanged":  false,
		"heartbeat":      false,
	}, guarded)
	require.Len(t, reg.Names(), len(guarded))
}

func TestTypingCodeUnwraps(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry()
	require.NoError(t, err)
	spec, _ := reg.Lookup("typingCode")
	filter, err := spec.Prepare(context.Background(), gateway.Request{})
	require.NoError(t, err)

	raw, _ := json.Marshal(coalescer.Payload{TypingCode: coalescer.TypingCode{Body: "fmt.Println"}})
	out, ok := filter(eventbus.Event{Topic: eventbus.TopicEditorTyping, Payload: raw})
	require.True(t, ok)
	require.JSONEq(t, `{"body":"fmt.Println"}`, string(out))
}

func TestParseRoomScopeQuery(t *testing.T) {
	t.Parallel()

	s, err := ParseRoomScopeQuery("", false)
	require.NoError(t, err)
	require.Equal(t, "all", s.String())

	s, err = ParseRoomScopeQuery("null", true)
	require.NoError(t, err)
	require.Equal(t, "global", s.String())

	s, err = ParseRoomScopeQuery("12", true)
	require.NoError(t, err)
	require.Equal(t, "room:12", s.String())

	_, err = ParseRoomScopeQuery("0", true)
	require.Error(t, err)
}
