package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	v1 "codetalk/shared/contracts/realtime/v1"
)

// fakeGateway acks, records the subscribe frame and sends two deliveries.
func fakeGateway(t *testing.T, got chan<- v1.SubscribePayload) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:       []string{v1.Subprotocol},
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		write := func(typ, id string, payload any) {
			env, _ := v1.New(typ, id, payload)
			b, _ := json.Marshal(env)
			_ = c.Write(ctx, websocket.MessageText, b)
		}
		readEnv := func() v1.Envelope {
			_, b, err := c.Read(ctx)
			if err != nil {
				return v1.Envelope{}
			}
			var env v1.Envelope
			_ = json.Unmarshal(b, &env)
			return env
		}

		if readEnv().Type != v1.TypeConnectionInit {
			return
		}
		write(v1.TypeConnectionAck, "", v1.ConnectionAckPayload{ConnectionID: "c1", Authenticated: true})

		sub := readEnv()
		var p v1.SubscribePayload
		_ = sub.DecodePayload(&p)
		got <- p

		write(v1.TypePing, "", nil)
		for i := 0; i < 2; i++ {
			write(v1.TypeNext, sub.ID, v1.NextPayload{Data: map[string]json.RawMessage{
				p.Subscription: json.RawMessage(`{"text":"hi"}`),
			}})
		}
		for {
			if env := readEnv(); env.Type == "" || env.Type == v1.TypeComplete {
				return
			}
		}
	}))
}

func TestRun_ReceivesDeliveries(t *testing.T) {
	t.Parallel()

	got := make(chan v1.SubscribePayload, 1)
	srv := fakeGateway(t, got)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := run(ctx, options{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:        "tok",
		Subscription: "messageCreated",
		RoomID:       "7",
		Count:        2,
	}, &out)
	require.NoError(t, err)

	p := <-got
	require.Equal(t, "messageCreated", p.Subscription)
	require.JSONEq(t, `{"roomId":7}`, string(p.Variables))
	require.Contains(t, out.String(), "authenticated=true")
	require.Contains(t, out.String(), `messageCreated #2: {"text":"hi"}`)
}

func TestVariables(t *testing.T) {
	t.Parallel()

	v, err := variables("")
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = variables("null")
	require.NoError(t, err)
	require.JSONEq(t, `{"roomId":null}`, string(v))

	_, err = variables("-3")
	require.Error(t, err)
}

func TestValidateURL(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateURL("wss://chat.example.com/graphql-ws"))
	require.Error(t, validateURL("http://chat.example.com"))
	require.Error(t, validateURL("ws://"))
}
