package api

import (
	"net/http"

	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/chat"
)

type signUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	User chat.User `json:"user"`
	session.TokenPair
}

type userRequest struct {
	Username string `json:"username"`
}

type roomRequest struct {
	Title string `json:"title"`
}

type messageRequest struct {
	Text   string `json:"text"`
	RoomID *int64 `json:"roomId"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type codeResponse struct {
	Body string `json:"body"`
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadInput(w, "invalid JSON body")
		return
	}
	res, err := h.svc.SignUp(r.Context(), chat.SignUpInput{Username: req.Username, Email: req.Email, Password: req.Password})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.audit(r, AuditSignUp, &res.User.ID, res.User.Username, nil)
	h.auth.SetAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusCreated, authResponse{User: res.User, TokenPair: res.Tokens})
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadInput(w, "invalid JSON body")
		return
	}
	res, err := h.svc.SignIn(r.Context(), req.Login, req.Password)
	if err != nil {
		switch chat.KindOf(err) {
		case chat.KindRateLimited:
			h.audit(r, AuditSignInRateLimited, nil, req.Login, nil)
		case chat.KindUnauthenticated:
			h.audit(r, AuditSignInFailed, nil, req.Login, nil)
		}
		writeServiceError(w, err)
		return
	}
	h.audit(r, AuditSignInSuccess, &res.User.ID, req.Login, nil)
	h.auth.SetAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusOK, authResponse{User: res.User, TokenPair: res.Tokens})
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	var uid *int64
	if c, err := h.auth.UserFromRequest(r); err == nil && c != nil {
		uid = &c.UserID
	}
	h.audit(r, AuditSignOut, uid, "", nil)
	h.auth.ClearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// refresh takes the token from the body, falling back to the refresh cookie.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeBadInput(w, "invalid JSON body")
			return
		}
	}
	tok := req.RefreshToken
	if tok == "" {
		tok = h.auth.RefreshTokenFromRequest(r)
	}
	res, err := h.svc.Refresh(r.Context(), tok)
	if err != nil {
		if k := chat.KindOf(err); k == chat.KindUnauthenticated || k == chat.KindTokenExpired {
			h.auth.ClearAuthCookies(w)
			h.audit(r, AuditRefreshFailed, nil, "", map[string]any{"reason": chat.Code(err)})
		}
		writeServiceError(w, err)
		return
	}
	h.audit(r, AuditRefreshSuccess, &res.User.ID, "", nil)
	h.auth.SetAuthCookies(w, res.Tokens)
	writeJSON(w, http.StatusOK, authResponse{User: res.User, TokenPair: res.Tokens})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Me(r.Context(), session.ClaimsFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadInput(w, "invalid JSON body")
		return
	}
	u, err := h.svc.UpdateMe(r.Context(), session.ClaimsFromContext(r.Context()), req.Username)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users(r.Context(), session.ClaimsFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type userOp func(*chat.Service, *http.Request, *session.Claims, int64) (chat.PublicUser, error)

func (h *Handler) userByID(op userOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			writeBadInput(w, "invalid user id")
			return
		}
		u, err := op(h.svc, r, session.ClaimsFromContext(r.Context()), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) {
	h.userByID(func(s *chat.Service, r *http.Request, c *session.Claims, id int64) (chat.PublicUser, error) {
		return s.User(r.Context(), c, id)
	})(w, r)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	h.userByID(func(s *chat.Service, r *http.Request, c *session.Claims, id int64) (chat.PublicUser, error) {
		return s.DeleteUser(r.Context(), c, id)
	})(w, r)
}

// userMessages pages one author's messages across every room.
func (h *Handler) userMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadInput(w, "invalid user id")
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		writeBadInput(w, "limit must be a positive integer")
		return
	}
	c := session.ClaimsFromContext(r.Context())
	if _, err := h.svc.User(r.Context(), c, id); err != nil {
		writeServiceError(w, err)
		return
	}
	page, err := h.svc.ListMessages(r.Context(), c, chat.MessageQuery{
		Cursor:   r.URL.Query().Get("cursor"),
		Limit:    limit,
		AuthorID: id,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		writeBadInput(w, "limit must be a positive integer")
		return
	}
	page, err := h.svc.ListRooms(r.Context(), session.ClaimsFromContext(r.Context()), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadInput(w, "invalid JSON body")
		return
	}
	room, err := h.svc.CreateRoom(r.Context(), session.ClaimsFromContext(r.Context()), req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

type roomOp func(*chat.Service, *http.Request, *session.Claims, int64) (chat.Room, error)

func (h *Handler) roomByID(op roomOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			writeBadInput(w, "invalid room id")
			return
		}
		room, err := op(h.svc, r, session.ClaimsFromContext(r.Context()), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func (h *Handler) room(w http.ResponseWriter, r *http.Request) {
	h.roomByID(func(s *chat.Service, r *http.Request, c *session.Claims, id int64) (chat.Room, error) {
		return s.Room(r.Context(), c, id)
	})(w, r)
}

func (h *Handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	h.roomByID(func(s *chat.Service, r *http.Request, c *session.Claims, id int64) (chat.Room, error) {
		return s.DeleteRoom(r.Context(), c, id)
	})(w, r)
}

func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	h.roomByID(func(s *chat.Service, r *http.Request, c *session.Claims, id int64) (chat.Room, error) {
		return s.JoinRoom(r.Context(), c, id)
	})(w, r)
}

func (h *Handler) leaveRoom(w http.ResponseWriter, r *http.Request) {
	h.roomByID(func(s *chat.Service, r *http.Request, c *session.Claims, id int64) (chat.Room, error) {
		return s.LeaveRoom(r.Context(), c, id)
	})(w, r)
}

func (h *Handler) roomMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadInput(w, "invalid room id")
		return
	}
	users, err := h.svc.RoomMembers(r.Context(), session.ClaimsFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// listMessages reads roomId from the query: absent lists everything, "null"
// the global feed, a number one room.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		writeBadInput(w, "limit must be a positive integer")
		return
	}
	q := r.URL.Query()
	scope, err := chat.ParseRoomScopeQuery(q.Get("roomId"), q.Has("roomId"))
	if err != nil {
		writeBadInput(w, err.Error())
		return
	}
	page, err := h.svc.ListMessages(r.Context(), session.ClaimsFromContext(r.Context()), chat.MessageQuery{
		Cursor: q.Get("cursor"),
		Limit:  limit,
		Scope:  scope,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadInput(w, "invalid JSON body")
		return
	}
	m, err := h.svc.CreateMessage(r.Context(), session.ClaimsFromContext(r.Context()), req.Text, req.RoomID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) message(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadInput(w, "invalid message id")
		return
	}
	m, err := h.svc.Message(r.Context(), session.ClaimsFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadInput(w, "invalid message id")
		return
	}
	m, err := h.svc.DeleteMessage(r.Context(), session.ClaimsFromContext(r.Context()), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) typeCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadInput(w, "invalid JSON body")
		return
	}
	body := h.svc.TypeCode(r.Context(), session.ClaimsFromContext(r.Context()), h.editorSession(r), req.Code)
	writeJSON(w, http.StatusOK, codeResponse{Body: body})
}

func (h *Handler) commitCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadInput(w, "invalid JSON body")
		return
	}
	body := h.svc.CommitCode(r.Context(), session.ClaimsFromContext(r.Context()), h.editorSession(r), req.Code)
	writeJSON(w, http.StatusOK, codeResponse{Body: body})
}

// editorSession keys anonymous editors by their CSRF cookie, else by address.
func (h *Handler) editorSession(r *http.Request) string {
	if c, err := r.Cookie(csrfCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return clientIP(r, h.trustProxy)
}
