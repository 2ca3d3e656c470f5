// Package api is the JSON-over-HTTP surface of the chat service.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"codetalk/cmd/internal/auth/csrf"
	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/chat"
	v1 "codetalk/shared/contracts/realtime/v1"
)

// Handler serves /api/*. Every mutating route passes the CSRF guard under
// its operation name; sign-in and sign-up are exempt.
type Handler struct {
	svc     *chat.Service
	auth    *session.Authority
	csrf    *csrf.Guard
	limiter *ClientLimiter
	auditor Auditor
	log     *slog.Logger

	// trustProxy lets X-Forwarded-For and X-Real-IP name the client.
	trustProxy bool

	mux *http.ServeMux
}

type Option func(*Handler)

// WithAuditor records auth outcomes. Without it nothing is audited.
func WithAuditor(a Auditor) Option {
	return func(h *Handler) { h.auditor = a }
}

// WithTrustProxy reads client addresses from forwarding headers. Enable it
// only behind a proxy that overwrites them.
func WithTrustProxy(trust bool) Option {
	return func(h *Handler) { h.trustProxy = trust }
}

// New builds the handler. A nil limiter disables per-client limiting.
func New(svc *chat.Service, auth *session.Authority, guard *csrf.Guard, limiter *ClientLimiter, log *slog.Logger, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{svc: svc, auth: auth, csrf: guard, limiter: limiter, log: log, mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}
	h.routes()
	return h
}

func (h *Handler) routes() {
	// Auth routes never look at the access token: an expired one must not
	// block refresh or sign-in.
	h.handle("POST /api/auth/signup", csrf.OpSignUp, false, h.signUp)
	h.handle("POST /api/auth/signin", csrf.OpSignIn, false, h.signIn)
	h.handle("POST /api/auth/signout", "signOut", false, h.signOut)
	h.handle("POST /api/auth/refresh", "refresh", false, h.refresh)

	h.handle("GET /api/me", "me", true, h.me)
	h.handle("PATCH /api/me", "updateUser", true, h.updateMe)

	h.handle("GET /api/users", "users", true, h.listUsers)
	h.handle("GET /api/users/{id}", "user", true, h.user)
	h.handle("GET /api/users/{id}/messages", "userMessages", true, h.userMessages)
	h.handle("DELETE /api/users/{id}", "deleteUser", true, h.deleteUser)

	h.handle("GET /api/rooms", "rooms", true, h.listRooms)
	h.handle("POST /api/rooms", "createRoom", true, h.createRoom)
	h.handle("GET /api/rooms/{id}", "room", true, h.room)
	h.handle("DELETE /api/rooms/{id}", "deleteRoom", true, h.deleteRoom)
	h.handle("POST /api/rooms/{id}/join", "joinRoom", true, h.joinRoom)
	h.handle("POST /api/rooms/{id}/leave", "leaveRoom", true, h.leaveRoom)
	h.handle("GET /api/rooms/{id}/members", "roomMembers", true, h.roomMembers)

	h.handle("GET /api/messages", "messages", true, h.listMessages)
	h.handle("POST /api/messages", "createMessage", true, h.createMessage)
	h.handle("GET /api/messages/{id}", "message", true, h.message)
	h.handle("DELETE /api/messages/{id}", "deleteMessage", true, h.deleteMessage)

	h.handle("POST /api/editor/code", "typeCode", true, h.typeCode)
	h.handle("POST /api/editor/commit", "commitCode", true, h.commitCode)
}

func (h *Handler) handle(pattern, op string, identify bool, fn http.HandlerFunc) {
	var next http.Handler = fn
	if identify {
		next = h.identify(next)
	}
	h.mux.Handle(pattern, h.csrf.Protect(op, next))
}

// ServeHTTP applies the client limiter and CSRF minting before routing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var next http.Handler = h.csrf.Mint(h.mux)
	if h.limiter != nil {
		next = h.limiter.Middleware(next)
	}
	next.ServeHTTP(w, r)
}

// identify attaches claims for a presented token. No token means anonymous;
// a bad or expired token is rejected so the client can refresh.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.auth.UserFromRequest(r)
		if err != nil {
			if errors.Is(err, session.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, v1.CodeTokenExpired, "access token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, v1.CodeUnauthenticated, "invalid access token")
			return
		}
		if claims != nil {
			r = r.WithContext(session.WithClaims(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func queryLimit(r *http.Request) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil && n > 0
}
