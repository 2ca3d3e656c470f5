package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"codetalk/cmd/internal/pagination"
)

// MemoryStore is a Store for tests and database-less development.
// Creation times are strictly increasing so cursors never tie.
type MemoryStore struct {
	mu sync.RWMutex

	now  func() time.Time
	last time.Time

	nextUser, nextRoom, nextMsg int64

	users    map[int64]User
	rooms    map[int64]Room
	members  map[int64]map[int64]time.Time
	messages map[int64]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		users:    make(map[int64]User),
		rooms:    make(map[int64]Room),
		members:  make(map[int64]map[int64]time.Time),
		messages: make(map[int64]Message),
	}
}

func (s *MemoryStore) stampLocked() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *MemoryStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Username, in.Username) || strings.EqualFold(u.Email, in.Email) {
			return User{}, ErrConflict
		}
	}
	s.nextUser++
	u := User{
		ID:           s.nextUser,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		CreatedAt:    s.stampLocked(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) UserByID(_ context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) UserByLogin(_ context.Context, login string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, login) || strings.EqualFold(u.Email, login) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) Users(context.Context) ([]PublicUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PublicUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Public())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateUsername(ctx context.Context, id int64, username string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	for _, other := range s.users {
		if other.ID != id && strings.EqualFold(other.Username, username) {
			return User{}, ErrConflict
		}
	}
	u.Username = username
	s.users[id] = u
	return u, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for _, set := range s.members {
		delete(set, id)
	}
	for mid, m := range s.messages {
		if m.UserID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateRoom(ctx context.Context, title string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Title == title {
			return Room{}, ErrConflict
		}
	}
	s.nextRoom++
	r := Room{ID: s.nextRoom, Title: title, CreatedAt: s.stampLocked()}
	s.rooms[r.ID] = r
	return r, nil
}

func (s *MemoryStore) RoomByID(_ context.Context, id int64) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}

// DeleteRoom cascades to memberships and the room's messages.
func (s *MemoryStore) DeleteRoom(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(s.rooms, id)
	delete(s.members, id)
	for mid, m := range s.messages {
		if m.RoomID != nil && *m.RoomID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *MemoryStore) AddMember(_ context.Context, roomID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	set := s.members[roomID]
	if set == nil {
		set = make(map[int64]time.Time)
		s.members[roomID] = set
	}
	if _, ok := set[userID]; !ok {
		set[userID] = s.stampLocked()
	}
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, roomID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return ErrNotFound
	}
	delete(s.members[roomID], userID)
	return nil
}

// Members lists a room's users in join order.
func (s *MemoryStore) Members(_ context.Context, roomID int64) ([]PublicUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.rooms[roomID]; !ok {
		return nil, ErrNotFound
	}
	type joined struct {
		u  PublicUser
		at time.Time
	}
	var js []joined
	for uid, at := range s.members[roomID] {
		js = append(js, joined{u: s.users[uid].Public(), at: at})
	}
	sort.Slice(js, func(i, j int) bool { return js[i].at.Before(js[j].at) })
	out := make([]PublicUser, 0, len(js))
	for _, j := range js {
		out = append(out, j.u)
	}
	return out, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, in NewMessage) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[in.UserID]; !ok {
		return Message{}, ErrNotFound
	}
	if in.RoomID != nil {
		if _, ok := s.rooms[*in.RoomID]; !ok {
			return Message{}, ErrNotFound
		}
	}
	s.nextMsg++
	m := Message{
		ID:        s.nextMsg,
		Text:      in.Text,
		RoomID:    copyID(in.RoomID),
		UserID:    in.UserID,
		CreatedAt: s.stampLocked(),
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *MemoryStore) MessageByID(_ context.Context, id int64) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) Messages() pagination.Source[Message] {
	return pagination.SourceFunc[Message](func(ctx context.Context, w pagination.Window) ([]Message, error) {
		s.mu.RLock()
		all := make([]Message, 0, len(s.messages))
		for _, m := range s.messages {
			all = append(all, m)
		}
		s.mu.RUnlock()
		return window(all, w, func(m Message, field string) (any, bool) {
			switch field {
			case "room_id":
				if m.RoomID == nil {
					return nil, true
				}
				return *m.RoomID, true
			case "user_id":
				return m.UserID, true
			}
			return nil, false
		}, func(m Message) time.Time { return m.CreatedAt })
	})
}

func (s *MemoryStore) Rooms() pagination.Source[Room] {
	return pagination.SourceFunc[Room](func(ctx context.Context, w pagination.Window) ([]Room, error) {
		s.mu.RLock()
		all := make([]Room, 0, len(s.rooms))
		for _, r := range s.rooms {
			all = append(all, r)
		}
		s.mu.RUnlock()
		return window(all, w, func(Room, string) (any, bool) { return nil, false }, func(r Room) time.Time { return r.CreatedAt })
	})
}

var errUnknownField = errors.New("chat: unknown filter field")

func window[T any](rows []T, w pagination.Window, field func(T, string) (any, bool), created func(T) time.Time) ([]T, error) {
	if w.OrderField != "" && w.OrderField != pagination.DefaultOrderField {
		return nil, errUnknownField
	}
	var before time.Time
	if w.HasBefore {
		t, err := pagination.ParseTimeKey(w.Before)
		if err != nil {
			return nil, err
		}
		before = t
	}
	var zero T
	for _, eq := range w.Where {
		if _, ok := field(zero, eq.Field); !ok {
			return nil, errUnknownField
		}
	}

	out := make([]T, 0, len(rows))
next:
	for _, r := range rows {
		for _, eq := range w.Where {
			v, _ := field(r, eq.Field)
			if !equalValue(v, eq.Value) {
				continue next
			}
		}
		if w.HasBefore && !created(r).Before(before) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return created(out[i]).After(created(out[j])) })
	if w.Limit > 0 && len(out) > w.Limit {
		out = out[:w.Limit]
	}
	return out, nil
}

func equalValue(got, want any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	g, gok := asInt64(got)
	w, wok := asInt64(want)
	if gok && wok {
		return g == w
	}
	return got == want
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
