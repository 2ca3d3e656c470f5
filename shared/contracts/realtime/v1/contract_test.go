package v1

import (
	"strings"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "init without id", env: Envelope{Type: TypeConnectionInit}},
		{name: "ping", env: Envelope{Type: TypePing}},
		{name: "subscribe with id", env: Envelope{Type: TypeSubscribe, ID: "1"}},
		{name: "subscribe without id", env: Envelope{Type: TypeSubscribe}, wantErr: true},
		{name: "complete blank id", env: Envelope{Type: TypeComplete, ID: "  "}, wantErr: true},
		{name: "id too long", env: Envelope{Type: TypeSubscribe, ID: strings.Repeat("x", MaxIDLength+1)}, wantErr: true},
		{name: "missing type", env: Envelope{}, wantErr: true},
		{name: "unknown type", env: Envelope{Type: "start"}, wantErr: true},
	}
	for _, tc := range cases {
		err := tc.env.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestNewAndDecode(t *testing.T) {
	t.Parallel()

	env, err := New(TypeError, "7", ErrorPayload{Code: CodeUnauthenticated, Message: "authentication required"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var p ErrorPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Code != CodeUnauthenticated || env.ID != "7" {
		t.Fatalf("unexpected decode: %+v %+v", env, p)
	}

	bare, err := New(TypePong, "", nil)
	if err != nil || bare.Payload != nil {
		t.Fatalf("nil payload should be omitted: %+v %v", bare, err)
	}
}
