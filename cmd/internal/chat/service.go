package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"codetalk/cmd/internal/auth/authz"
	"codetalk/cmd/internal/auth/session"
	"codetalk/cmd/internal/pagination"
	"codetalk/cmd/internal/realtime/coalescer"
	"codetalk/cmd/internal/realtime/eventbus"
	"codetalk/cmd/security/password"
)

const (
	DefaultMessagePageSize = 10
	DefaultRoomPageSize    = 5

	DefaultHeartbeatEvery = 30 * time.Second
)

// Deps wires a Service. Store, Auth and Publisher are required.
type Deps struct {
	Store     Store
	Auth      *session.Authority
	Hasher    password.Hasher
	Publisher *Publisher
	// Typing coalesces editor keystrokes. Nil builds one with defaults.
	Typing *coalescer.Coalescer
	Log    *slog.Logger
}

// Service implements every chat mutation and read. Mutations publish their
// event after the write succeeds; a failed publish never fails the mutation.
type Service struct {
	store  Store
	auth   *session.Authority
	hasher password.Hasher
	pub    *Publisher
	typing *coalescer.Coalescer
	log    *slog.Logger

	// dummyHash is verified for unknown logins so both failure paths cost
	// one argon2 run.
	dummyHash string
	verify    func(encoded, pw string) (bool, error)

	messages *pagination.Engine[Message]
	rooms    *pagination.Engine[Room]
}

func NewService(d Deps) (*Service, error) {
	if d.Store == nil || d.Auth == nil || d.Publisher == nil {
		return nil, errors.New("chat: store, auth and publisher are required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Hasher.Params.Iterations == 0 {
		d.Hasher = password.DefaultHasher()
	}
	if d.Typing == nil {
		d.Typing = coalescer.New(d.Publisher, coalescer.Config{}, d.Log)
	}
	dh := d.Hasher
	dh.Policy = password.Policy{MaxLength: 64}
	dummy, err := dh.Hash("dummy-password-for-timing-only")
	if err != nil {
		return nil, fmt.Errorf("chat: dummy hash: %w", err)
	}
	s := &Service{
		store:     d.Store,
		auth:      d.Auth,
		hasher:    d.Hasher,
		pub:       d.Publisher,
		typing:    d.Typing,
		log:       d.Log,
		dummyHash: dummy,
		messages:  pagination.NewEngine(d.Store.Messages(), messageKey, pagination.WithDefaultLimit[Message](DefaultMessagePageSize)),
		rooms:     pagination.NewEngine(d.Store.Rooms(), roomKey, pagination.WithDefaultLimit[Room](DefaultRoomPageSize)),
	}
	s.verify = s.hasher.Verify
	return s, nil
}

// AuthResult is returned by every operation that issues tokens.
type AuthResult struct {
	User   User
	Tokens session.TokenPair
}

type SignUpInput struct {
	Username string
	Email    string
	Password string
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (AuthResult, error) {
	const op = "signUp"

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if !validUsername(in.Username) {
		return AuthResult{}, opErr(op, KindValidation, "username must be 3-30 letters or digits", nil)
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return AuthResult{}, opErr(op, KindValidation, "please provide a valid email address", nil)
	}
	if runes(in.Password) > MaxPasswordRunes {
		return AuthResult{}, opErr(op, KindValidation, "password must be at most 128 characters", nil)
	}
	if err := s.hasher.Validate(in.Password); err != nil {
		return AuthResult{}, opErr(op, KindValidation, passwordPolicyMessage(err), err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, opErr(op, KindInternal, "hash password", err)
	}
	u, err := s.store.CreateUser(ctx, NewUser{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         session.RoleUser,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return AuthResult{}, opErr(op, KindConflict, "username or email already taken", err)
		}
		return AuthResult{}, opErr(op, KindInternal, "create user", err)
	}

	s.log.Info("auth.signup", "user_id", u.ID)
	return s.issue(op, u)
}

func passwordPolicyMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "password is too short"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "password is too long"
	default:
		return "password is too weak"
	}
}

// SignIn checks the per-login attempt window before touching credentials and
// clears it on success. Unknown logins and wrong passwords look the same.
func (s *Service) SignIn(ctx context.Context, login, pw string) (AuthResult, error) {
	const op = "signIn"

	login = strings.TrimSpace(login)
	if login == "" || runes(login) > MaxLoginRunes || pw == "" || runes(pw) > MaxPasswordRunes {
		return AuthResult{}, opErr(op, KindValidation, "login and password are required", nil)
	}

	if err := s.auth.CheckAuthRateLimit(ctx, login); err != nil {
		var rl session.RateLimitError
		if errors.As(err, &rl) {
			s.log.Warn("auth.signin.rate_limited", "retry_after", rl.RetryAfter)
			return AuthResult{}, opErr(op, KindRateLimited,
				fmt.Sprintf("too many login attempts, try again in %d minutes", rl.RetryAfterMinutes()), err)
		}
		return AuthResult{}, opErr(op, KindInternal, "check attempts", err)
	}

	u, err := s.store.UserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = s.verify(s.dummyHash, pw)
			return AuthResult{}, opErr(op, KindUnauthenticated, "invalid credentials", nil)
		}
		return AuthResult{}, opErr(op, KindInternal, "load user", err)
	}
	ok, err := s.verify(u.PasswordHash, pw)
	if err != nil {
		s.log.Error("auth.signin.verify", "user_id", u.ID, "err", err)
	}
	if !ok {
		return AuthResult{}, opErr(op, KindUnauthenticated, "invalid credentials", nil)
	}

	if err := s.auth.ClearAuthAttempts(ctx, login); err != nil {
		s.log.Warn("auth.attempts.clear", "err", err)
	}
	s.log.Info("auth.signin", "user_id", u.ID)
	return s.issue(op, u)
}

// Refresh rotates the pair from a valid refresh token. The user is reloaded
// so role changes and deletions take effect.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	const op = "refresh"

	if refreshToken == "" {
		return AuthResult{}, opErr(op, KindUnauthenticated, "refresh token required", nil)
	}
	claims, err := s.auth.VerifyToken(refreshToken, true)
	if err != nil {
		if errors.Is(err, session.ErrTokenExpired) {
			return AuthResult{}, opErr(op, KindTokenExpired, "refresh token expired", err)
		}
		return AuthResult{}, opErr(op, KindUnauthenticated, "invalid refresh token", err)
	}
	u, err := s.store.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResult{}, opErr(op, KindUnauthenticated, "invalid refresh token", err)
		}
		return AuthResult{}, opErr(op, KindInternal, "load user", err)
	}
	return s.issue(op, u)
}

func (s *Service) issue(op string, u User) (AuthResult, error) {
	pair, err := s.auth.GenerateTokens(session.Subject{ID: u.ID, Username: u.Username, Email: u.Email, Role: u.Role})
	if err != nil {
		return AuthResult{}, opErr(op, KindInternal, "issue tokens", err)
	}
	return AuthResult{User: u, Tokens: pair}, nil
}

func (s *Service) Me(ctx context.Context, c *session.Claims) (User, error) {
	const op = "me"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return User{}, err
	}
	u, err := s.store.UserByID(ctx, c.UserID)
	if err != nil {
		return User{}, s.storeErr(op, "user", err)
	}
	return u, nil
}

func (s *Service) Users(ctx context.Context, c *session.Claims) ([]PublicUser, error) {
	const op = "users"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return nil, err
	}
	users, err := s.store.Users(ctx)
	if err != nil {
		return nil, opErr(op, KindInternal, "list users", err)
	}
	return users, nil
}

func (s *Service) User(ctx context.Context, c *session.Claims, id int64) (PublicUser, error) {
	const op = "user"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return PublicUser{}, err
	}
	u, err := s.store.UserByID(ctx, id)
	if err != nil {
		return PublicUser{}, s.storeErr(op, "user", err)
	}
	return u.Public(), nil
}

// UpdateMe renames the caller. Tokens already issued keep the old name
// until they are refreshed.
func (s *Service) UpdateMe(ctx context.Context, c *session.Claims, username string) (User, error) {
	const op = "updateUser"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return User{}, err
	}
	username = strings.TrimSpace(username)
	if !validUsername(username) {
		return User{}, opErr(op, KindValidation, "username must be 3-30 letters or digits", nil)
	}
	u, err := s.store.UpdateUsername(ctx, c.UserID, username)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return User{}, opErr(op, KindConflict, "username already taken", err)
		}
		return User{}, s.storeErr(op, "user", err)
	}
	s.log.Info("user.updated", "user_id", u.ID, "fields", []string{"username"})
	return u, nil
}

// DeleteUser removes a user with their memberships and messages. Admin only.
func (s *Service) DeleteUser(ctx context.Context, c *session.Claims, id int64) (PublicUser, error) {
	const op = "deleteUser"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAdmin); err != nil {
		return PublicUser{}, err
	}
	u, err := s.store.UserByID(ctx, id)
	if err != nil {
		return PublicUser{}, s.storeErr(op, "user", err)
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return PublicUser{}, s.storeErr(op, "user", err)
	}
	s.log.Info("user.deleted", "user_id", id, "by", c.UserID)
	return u.Public(), nil
}

func (s *Service) CreateMessage(ctx context.Context, c *session.Claims, text string, roomID *int64) (Message, error) {
	const op = "createMessage"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return Message{}, err
	}

	text = Sanitize(text)
	switch {
	case text == "":
		return Message{}, opErr(op, KindValidation, "message cannot be empty", nil)
	case runes(text) > MaxMessageRunes:
		return Message{}, opErr(op, KindValidation, "message must be at most 5000 characters", nil)
	case roomID != nil && *roomID <= 0:
		return Message{}, opErr(op, KindValidation, "invalid room id", nil)
	}

	m, err := s.store.CreateMessage(ctx, NewMessage{Text: text, RoomID: roomID, UserID: c.UserID})
	if err != nil {
		return Message{}, s.storeErr(op, "room", err)
	}
	s.pub.Publish(ctx, eventbus.TopicMessageCreated, MessageCreatedEvent{Message: m})
	s.log.Debug("message.created", "message_id", m.ID, "user_id", c.UserID)
	return m, nil
}

func (s *Service) Message(ctx context.Context, c *session.Claims, id int64) (Message, error) {
	const op = "message"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return Message{}, err
	}
	m, err := s.store.MessageByID(ctx, id)
	if err != nil {
		return Message{}, s.storeErr(op, "message", err)
	}
	return m, nil
}

// DeleteMessage is allowed for the author or an admin.
func (s *Service) DeleteMessage(ctx context.Context, c *session.Claims, id int64) (Message, error) {
	const op = "deleteMessage"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return Message{}, err
	}
	m, err := s.store.MessageByID(ctx, id)
	if err != nil {
		return Message{}, s.storeErr(op, "message", err)
	}
	if err := s.require(ctx, op, authz.Input{Claims: c, ResourceOwnerID: m.UserID}, authz.OwnerOrAdmin); err != nil {
		return Message{}, err
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return Message{}, s.storeErr(op, "message", err)
	}
	s.pub.Publish(ctx, eventbus.TopicMessageDeleted, m)
	s.log.Info("message.deleted", "message_id", id, "by", c.UserID)
	return m, nil
}

// CreateRoom also makes the creator its first member.
func (s *Service) CreateRoom(ctx context.Context, c *session.Claims, title string) (Room, error) {
	const op = "createRoom"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return Room{}, err
	}
	title = Sanitize(title)
	if title == "" || runes(title) > MaxRoomTitleRunes {
		return Room{}, opErr(op, KindValidation, "room title must be 1-100 characters", nil)
	}

	r, err := s.store.CreateRoom(ctx, title)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return Room{}, opErr(op, KindConflict, "room title already taken", err)
		}
		return Room{}, opErr(op, KindInternal, "create room", err)
	}
	if err := s.store.AddMember(ctx, r.ID, c.UserID); err != nil {
		s.log.Warn("room.creator.join", "room_id", r.ID, "err", err)
	}
	s.pub.Publish(ctx, eventbus.TopicRoomCreated, RoomCreatedEvent{Room: r})
	s.log.Info("room.created", "room_id", r.ID, "by", c.UserID)
	return r, nil
}

func (s *Service) Room(ctx context.Context, c *session.Claims, id int64) (Room, error) {
	const op = "room"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return Room{}, err
	}
	r, err := s.store.RoomByID(ctx, id)
	if err != nil {
		return Room{}, s.storeErr(op, "room", err)
	}
	return r, nil
}

func (s *Service) DeleteRoom(ctx context.Context, c *session.Claims, id int64) (Room, error) {
	const op = "deleteRoom"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAdmin); err != nil {
		return Room{}, err
	}
	r, err := s.store.RoomByID(ctx, id)
	if err != nil {
		return Room{}, s.storeErr(op, "room", err)
	}
	if err := s.store.DeleteRoom(ctx, id); err != nil {
		return Room{}, s.storeErr(op, "room", err)
	}
	s.pub.Publish(ctx, eventbus.TopicRoomDeleted, RoomDeletedEvent{ID: id})
	s.log.Info("room.deleted", "room_id", id, "by", c.UserID)
	return r, nil
}

func (s *Service) JoinRoom(ctx context.Context, c *session.Claims, roomID int64) (Room, error) {
	const op = "joinRoom"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return Room{}, err
	}
	r, err := s.store.RoomByID(ctx, roomID)
	if err != nil {
		return Room{}, s.storeErr(op, "room", err)
	}
	if err := s.store.AddMember(ctx, roomID, c.UserID); err != nil {
		return Room{}, s.storeErr(op, "room", err)
	}
	s.pub.Publish(ctx, eventbus.TopicRoomUserJoined, RoomUserJoinedEvent{
		Room: r,
		User: PublicUser{ID: c.UserID, Username: c.Username},
	})
	return r, nil
}

func (s *Service) LeaveRoom(ctx context.Context, c *session.Claims, roomID int64) (Room, error) {
	const op = "leaveRoom"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return Room{}, err
	}
	r, err := s.store.RoomByID(ctx, roomID)
	if err != nil {
		return Room{}, s.storeErr(op, "room", err)
	}
	if err := s.store.RemoveMember(ctx, roomID, c.UserID); err != nil {
		return Room{}, s.storeErr(op, "room", err)
	}
	s.pub.Publish(ctx, eventbus.TopicRoomUserLeft, RoomUserLeftEvent{RoomID: roomID, UserID: c.UserID})
	return r, nil
}

func (s *Service) RoomMembers(ctx context.Context, c *session.Claims, roomID int64) ([]PublicUser, error) {
	const op = "roomMembers"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return nil, err
	}
	users, err := s.store.Members(ctx, roomID)
	if err != nil {
		return nil, s.storeErr(op, "room", err)
	}
	return users, nil
}

type MessageQuery struct {
	Cursor string
	Limit  int
	Scope  RoomScope
	// AuthorID limits the page to one user's messages when non-zero.
	AuthorID int64
}

func (q MessageQuery) where() []pagination.Eq {
	w := q.Scope.where()
	if q.AuthorID != 0 {
		w = append(w, pagination.Eq{Field: "user_id", Value: q.AuthorID})
	}
	return w
}

func (s *Service) ListMessages(ctx context.Context, c *session.Claims, q MessageQuery) (pagination.Page[Message], error) {
	const op = "messages"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return pagination.Page[Message]{}, err
	}
	page, err := s.messages.Query(ctx, pagination.Request{Cursor: q.Cursor, Limit: q.Limit, Where: q.where()})
	if err != nil {
		return pagination.Page[Message]{}, s.pageErr(op, err)
	}
	return page, nil
}

func (s *Service) ListRooms(ctx context.Context, c *session.Claims, cursor string, limit int) (pagination.Page[Room], error) {
	const op = "rooms"
	if err := s.require(ctx, op, authz.Input{Claims: c}, authz.IsAuthenticated); err != nil {
		return pagination.Page[Room]{}, err
	}
	page, err := s.rooms.Query(ctx, pagination.Request{Cursor: cursor, Limit: limit})
	if err != nil {
		return pagination.Page[Room]{}, s.pageErr(op, err)
	}
	return page, nil
}

// TypeCode feeds the live editor stream. Anonymous editors are keyed by
// sessionKey; signed-in editors by user id.
func (s *Service) TypeCode(ctx context.Context, c *session.Claims, sessionKey, body string) string {
	return s.typing.Submit(ctx, typingKey(c, sessionKey), body)
}

// CommitCode publishes a settled editor snapshot right away and drops any
// pending keystroke state for the session.
func (s *Service) CommitCode(ctx context.Context, c *session.Claims, sessionKey, body string) string {
	key := typingKey(c, sessionKey)
	s.typing.Forget(key)
	if runes(body) > coalescer.DefaultMaxLength {
		body = string([]rune(body)[:coalescer.DefaultMaxLength])
	}
	s.pub.Publish(ctx, eventbus.TopicEditorChanged, coalescer.TypingCode{Body: body})
	return body
}

func typingKey(c *session.Claims, sessionKey string) string {
	if c != nil {
		return "user:" + strconv.FormatInt(c.UserID, 10)
	}
	return "anon:" + sessionKey
}

// RunHeartbeat publishes a server clock tick until ctx ends.
func (s *Service) RunHeartbeat(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = DefaultHeartbeatEvery
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			s.pub.Publish(ctx, eventbus.TopicServerHeartbeat, HeartbeatEvent{Timestamp: now.UTC()})
		}
	}
}

func (s *Service) require(ctx context.Context, op string, in authz.Input, guards ...authz.Guard) error {
	d := authz.Check(ctx, in, guards...)
	if d.Allowed {
		return nil
	}
	kind := KindForbidden
	if d.Kind == authz.KindUnauthenticated {
		kind = KindUnauthenticated
	}
	return opErr(op, kind, d.Reason, d.Err())
}

func (s *Service) storeErr(op, what string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return opErr(op, KindNotFound, what+" not found", err)
	case errors.Is(err, ErrConflict):
		return opErr(op, KindConflict, what+" already exists", err)
	}
	return opErr(op, KindInternal, "store", err)
}

func (s *Service) pageErr(op string, err error) error {
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return opErr(op, KindValidation, "invalid cursor", err)
	}
	return opErr(op, KindInternal, "page", err)
}
