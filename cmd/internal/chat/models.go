// Package chat holds the persistence service and mutation logic for users,
// rooms and messages, and the catalog of live subscriptions they feed.
package chat

import (
	"time"

	"codetalk/cmd/internal/pagination"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PublicUser is the shape other clients see.
type PublicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (u User) Public() PublicUser { return PublicUser{ID: u.ID, Username: u.Username} }

type Room struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message belongs to a room, or to the global feed when RoomID is nil.
type Message struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	RoomID    *int64    `json:"roomId"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func messageKey(m Message) string { return pagination.TimeKey(m.CreatedAt) }
func roomKey(r Room) string { return pagination.TimeKey(r.CreatedAt) }

type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

type NewMessage struct {
	Text   string
	RoomID *int64
	UserID int64
}

// Event payloads. Each is what one subscription delivers.

type MessageCreatedEvent struct {
	Message Message `json:"message"`
}

type RoomCreatedEvent struct {
	Room Room `json:"room"`
}

type RoomDeletedEvent struct {
	ID int64 `json:"id"`
}

type RoomUserJoinedEvent struct {
	Room Room       `json:"room"`
	User PublicUser `json:"user"`
}

type RoomUserLeftEvent struct {
	RoomID int64 `json:"roomId"`
	UserID int64 `json:"userId"`
}

type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
