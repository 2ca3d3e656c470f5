// Package v1 defines the subscription protocol spoken on the realtime
// WebSocket endpoint.
//
// The message flow follows graphql-transport-ws: the client sends
// connection_init, the server answers connection_ack, then the client opens
// subscriptions with subscribe and receives next frames until complete or
// error. Either side may send ping and must answer with pong.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subprotocol is negotiated during the WebSocket upgrade.
const Subprotocol = "graphql-transport-ws"

// Message types (wire-stable).
const (
	TypeConnectionInit = "connection_init"
	TypeConnectionAck  = "connection_ack"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSubscribe      = "subscribe"
	TypeNext           = "next"
	TypeError          = "error"
	TypeComplete       = "complete"
)

var knownTypes = map[string]bool{
	TypeConnectionInit: false,
	TypeConnectionAck:  false,
	TypePing:           false,
	TypePong:           false,
	TypeSubscribe:      true,
	TypeNext:           true,
	TypeError:          true,
	TypeComplete:       true,
}

// MaxIDLength bounds client-chosen subscription ids.
const MaxIDLength = 128

// Envelope is the single frame shape in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the type is known and that operation frames carry an id.
func (e Envelope) Validate() error {
	needsID, ok := knownTypes[e.Type]
	if !ok {
		if e.Type == "" {
			return errors.New("missing type")
		}
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if needsID {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return errors.New("missing id")
		}
		if len(id) > MaxIDLength {
			return errors.New("id too long")
		}
	}
	return nil
}

// New builds an envelope with payload marshalled to JSON. A nil payload is omitted.
func New(typ, id string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// DecodePayload unmarshals the payload into dst. An absent payload leaves dst untouched.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}
