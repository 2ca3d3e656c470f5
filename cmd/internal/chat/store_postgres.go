package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"codetalk/cmd/internal/db/migrations"
	"codetalk/cmd/internal/pagination"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// PostgresStore does NOT own the pool; Close is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the tables (default "codetalk").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !migrations.ValidSchema(schema) {
			return fmt.Errorf("chat: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: migrations.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// mapPGError turns constraint violations into store sentinels.
func mapPGError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

const (
	userColumns    = `id, username, email, role, password_hash, created_at`
	roomColumns    = `id, title, created_at`
	messageColumns = `id, text, room_id, user_id, created_at`
)

func (s *PostgresStore) CreateUser(ctx context.Context, in NewUser) (User, error) {
	rows, _ := s.pool.Query(ctx,
		`INSERT INTO `+s.table("users")+` (username, email, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, clock_timestamp())
		 RETURNING `+userColumns,
		in.Username, in.Email, in.PasswordHash, in.Role,
	)
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[User])
	return u, mapPGError(err)
}

func (s *PostgresStore) UserByID(ctx context.Context, id int64) (User, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+userColumns+` FROM `+s.table("users")+` WHERE id = $1`, id)
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[User])
	return u, mapPGError(err)
}

func (s *PostgresStore) UserByLogin(ctx context.Context, login string) (User, error) {
	rows, _ := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM `+s.table("users")+`
		 WHERE lower(username) = lower($1) OR lower(email) = lower($1)
		 ORDER BY id LIMIT 1`,
		login,
	)
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[User])
	return u, mapPGError(err)
}

func (s *PostgresStore) Users(ctx context.Context) ([]PublicUser, error) {
	rows, _ := s.pool.Query(ctx, `SELECT id, username FROM `+s.table("users")+` ORDER BY id`)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[PublicUser])
	if err != nil {
		return nil, mapPGError(err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateUsername(ctx context.Context, id int64, username string) (User, error) {
	rows, _ := s.pool.Query(ctx,
		`UPDATE `+s.table("users")+` SET username = $2 WHERE id = $1
		 RETURNING `+userColumns,
		id, username,
	)
	u, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[User])
	return u, mapPGError(err)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("users")+` WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, title string) (Room, error) {
	rows, _ := s.pool.Query(ctx,
		`INSERT INTO `+s.table("rooms")+` (title, created_at) VALUES ($1, clock_timestamp())
		 RETURNING `+roomColumns,
		title,
	)
	r, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Room])
	return r, mapPGError(err)
}

func (s *PostgresStore) RoomByID(ctx context.Context, id int64) (Room, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+roomColumns+` FROM `+s.table("rooms")+` WHERE id = $1`, id)
	r, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Room])
	return r, mapPGError(err)
}

func (s *PostgresStore) DeleteRoom(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("rooms")+` WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddMember(ctx context.Context, roomID, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("user_rooms")+` (user_id, room_id, joined_at) VALUES ($1, $2, clock_timestamp())
		 ON CONFLICT (user_id, room_id) DO NOTHING`,
		userID, roomID,
	)
	return mapPGError(err)
}

func (s *PostgresStore) RemoveMember(ctx context.Context, roomID, userID int64) error {
	if _, err := s.RoomByID(ctx, roomID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("user_rooms")+` WHERE user_id = $1 AND room_id = $2`, userID, roomID)
	return mapPGError(err)
}

func (s *PostgresStore) Members(ctx context.Context, roomID int64) ([]PublicUser, error) {
	if _, err := s.RoomByID(ctx, roomID); err != nil {
		return nil, err
	}
	rows, _ := s.pool.Query(ctx,
		`SELECT u.id, u.username FROM `+s.table("user_rooms")+` m
		 JOIN `+s.table("users")+` u ON u.id = m.user_id
		 WHERE m.room_id = $1 ORDER BY m.joined_at, u.id`,
		roomID,
	)
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[PublicUser])
	if err != nil {
		return nil, mapPGError(err)
	}
	return out, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, in NewMessage) (Message, error) {
	rows, _ := s.pool.Query(ctx,
		`INSERT INTO `+s.table("messages")+` (text, room_id, user_id, created_at)
		 VALUES ($1, $2, $3, clock_timestamp())
		 RETURNING `+messageColumns,
		in.Text, in.RoomID, in.UserID,
	)
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Message])
	return m, mapPGError(err)
}

func (s *PostgresStore) MessageByID(ctx context.Context, id int64) (Message, error) {
	rows, _ := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE id = $1`, id)
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Message])
	return m, mapPGError(err)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("messages")+` WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Messages() pagination.Source[Message] {
	return pagination.PostgresSource[Message]{
		DB:      s.pool,
		Table:   pgx.Identifier{s.schema, "messages"},
		Columns: []string{"id", "text", "room_id", "user_id", "created_at"},
		Scan:    pgx.RowToStructByPos[Message],
	}
}

func (s *PostgresStore) Rooms() pagination.Source[Room] {
	return pagination.PostgresSource[Room]{
		DB:      s.pool,
		Table:   pgx.Identifier{s.schema, "rooms"},
		Columns: []string{"id", "title", "created_at"},
		Scan:    pgx.RowToStructByPos[Room],
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

var _ Store = (*PostgresStore)(nil)
