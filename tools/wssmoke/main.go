// Command wssmoke exercises the subscription endpoint end to end: it dials,
// sends connection_init, subscribes and prints deliveries until it has seen
// enough of them.
//
// Every flag can also be set through the environment with the
// CODETALK_SMOKE_ prefix, e.g. CODETALK_SMOKE_TOKEN.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/peterbourgon/ff/v3"

	v1 "codetalk/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20

type options struct {
	URL          string
	Origin       string
	Token        string
	Subscription string
	RoomID       string
	Count        int
	Timeout      time.Duration
	Verbose      bool
}

func main() {
	fs := flag.NewFlagSet("wssmoke", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.URL, "url", "ws://127.0.0.1:4000/graphql-ws", "WebSocket URL")
	fs.StringVar(&o.Origin, "origin", "http://localhost", "Origin header sent with the upgrade")
	fs.StringVar(&o.Token, "token", "", "access token sent as x-token in connection_init")
	fs.StringVar(&o.Subscription, "subscription", "heartbeat", "subscription name")
	fs.StringVar(&o.RoomID, "room", "", `roomId variable for messageCreated ("null" for the global feed)`)
	fs.IntVar(&o.Count, "count", 1, "deliveries to wait for")
	fs.DurationVar(&o.Timeout, "timeout", 45*time.Second, "overall deadline")
	fs.BoolVar(&o.Verbose, "v", false, "print every frame")

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("CODETALK_SMOKE")); err != nil {
		fmt.Fprintln(os.Stderr, "wssmoke:", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.Timeout)
	defer cancel()
	if err := run(ctx, o, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "wssmoke: FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("wssmoke: OK")
}

func run(ctx context.Context, o options, out io.Writer) error {
	if err := validateURL(o.URL); err != nil {
		return fmt.Errorf("invalid -url: %w", err)
	}
	vars, err := variables(o.RoomID)
	if err != nil {
		return err
	}

	hdr := http.Header{}
	if o.Origin != "" {
		hdr.Set("Origin", o.Origin)
	}
	conn, _, err := websocket.Dial(ctx, o.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   hdr,
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
	conn.SetReadLimit(maxReadBytes)

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		return fmt.Errorf("server selected subprotocol %q", sp)
	}

	if err := send(ctx, conn, v1.TypeConnectionInit, "", v1.ConnectionInitPayload{XToken: o.Token}); err != nil {
		return err
	}
	ack, err := expect(ctx, conn, v1.TypeConnectionAck, o.Verbose, out)
	if err != nil {
		return err
	}
	var ackPayload v1.ConnectionAckPayload
	if err := ack.DecodePayload(&ackPayload); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	fmt.Fprintf(out, "connected id=%s authenticated=%t\n", ackPayload.ConnectionID, ackPayload.Authenticated)

	const subID = "smoke-1"
	if err := send(ctx, conn, v1.TypeSubscribe, subID, v1.SubscribePayload{Subscription: o.Subscription, Variables: vars}); err != nil {
		return err
	}

	for seen := 0; seen < o.Count; {
		env, err := read(ctx, conn)
		if err != nil {
			return err
		}
		if o.Verbose {
			fmt.Fprintf(out, "<- %s %s %s\n", env.Type, env.ID, env.Payload)
		}
		switch env.Type {
		case v1.TypeNext:
			var next v1.NextPayload
			if err := env.DecodePayload(&next); err != nil {
				return fmt.Errorf("decode next: %w", err)
			}
			seen++
			fmt.Fprintf(out, "%s #%d: %s\n", o.Subscription, seen, next.Data[o.Subscription])
		case v1.TypeError:
			var e v1.ErrorPayload
			_ = env.DecodePayload(&e)
			return fmt.Errorf("subscribe rejected: %s: %s", e.Code, e.Message)
		case v1.TypeComplete:
			return errors.New("server completed the subscription early")
		case v1.TypePing:
			if err := send(ctx, conn, v1.TypePong, "", nil); err != nil {
				return err
			}
		}
	}
	return send(ctx, conn, v1.TypeComplete, subID, nil)
}

func variables(room string) (json.RawMessage, error) {
	switch room {
	case "":
		return nil, nil
	case "null":
		return json.RawMessage(`{"roomId":null}`), nil
	}
	id, err := strconv.ParseInt(room, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid -room %q", room)
	}
	return json.Marshal(map[string]int64{"roomId": id})
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ, id string, payload any) error {
	env, err := v1.New(typ, id, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}
	return nil
}

func read(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, b, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("read: %w", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	return env, nil
}

// expect reads until a frame of typ arrives, answering pings on the way.
func expect(ctx context.Context, conn *websocket.Conn, typ string, verbose bool, out io.Writer) (v1.Envelope, error) {
	for {
		env, err := read(ctx, conn)
		if err != nil {
			return v1.Envelope{}, err
		}
		if verbose {
			fmt.Fprintf(out, "<- %s %s\n", env.Type, env.Payload)
		}
		switch env.Type {
		case typ:
			return env, nil
		case v1.TypePing:
			if err := send(ctx, conn, v1.TypePong, "", nil); err != nil {
				return v1.Envelope{}, err
			}
		case v1.TypeError:
			return v1.Envelope{}, fmt.Errorf("server error while waiting for %s: %s", typ, env.Payload)
		}
	}
}
