package chat

import (
	"context"

	"codetalk/cmd/internal/pagination"
)

// Store persists users, rooms, memberships and messages.
//
// Lookups return ErrNotFound for missing rows and creates return ErrConflict
// on unique violations. Both pagination sources order by creation time,
// newest first, and understand the equality fields "room_id" and "user_id".
type Store interface {
	CreateUser(ctx context.Context, in NewUser) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	// UserByLogin matches username or email.
	UserByLogin(ctx context.Context, login string) (User, error)
	// Users lists every user in id order.
	Users(ctx context.Context) ([]PublicUser, error)
	UpdateUsername(ctx context.Context, id int64, username string) (User, error)
	// DeleteUser cascades to the user's memberships and messages.
	DeleteUser(ctx context.Context, id int64) error

	CreateRoom(ctx context.Context, title string) (Room, error)
	RoomByID(ctx context.Context, id int64) (Room, error)
	DeleteRoom(ctx context.Context, id int64) error
	AddMember(ctx context.Context, roomID, userID int64) error
	RemoveMember(ctx context.Context, roomID, userID int64) error
	Members(ctx context.Context, roomID int64) ([]PublicUser, error)

	CreateMessage(ctx context.Context, in NewMessage) (Message, error)
	MessageByID(ctx context.Context, id int64) (Message, error)
	DeleteMessage(ctx context.Context, id int64) error

	Messages() pagination.Source[Message]
	Rooms() pagination.Source[Room]

	Ping(ctx context.Context) error
	Close() error
}
