package v1

import "encoding/json"

// Error codes shared by the HTTP API and the subscription protocol.
const (
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeForbidden         = "FORBIDDEN"
	CodeBadUserInput      = "BAD_USER_INPUT"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeCSRFInvalid       = "CSRF_INVALID"
	CodeNotFound          = "NOT_FOUND"
	CodeBrokerError       = "BROKER_ERROR"
	CodeInternal          = "INTERNAL"
	CodeProtocol          = "PROTOCOL_ERROR"
)

// ConnectionInitPayload carries optional credentials when the handshake had no cookie.
type ConnectionInitPayload struct {
	XToken        string `json:"x-token,omitempty"`
	Authorization string `json:"authorization,omitempty"`
}

type ConnectionAckPayload struct {
	ConnectionID  string `json:"connectionId"`
	Authenticated bool   `json:"authenticated"`
}

type SubscribePayload struct {
	Subscription string          `json:"subscription"`
	Variables    json.RawMessage `json:"variables,omitempty"`
}

// NextPayload wraps one delivery keyed by subscription name.
type NextPayload struct {
	Data map[string]json.RawMessage `json:"data"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
