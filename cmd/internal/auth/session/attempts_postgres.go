package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAttemptStore shares the attempt window across instances through the
// auth_attempts table. Each Hit runs in one transaction holding a per-key
// advisory lock, so concurrent instances see a consistent count.
type PostgresAttemptStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresAttemptStore uses schema.auth_attempts (schema defaults to "codetalk").
func NewPostgresAttemptStore(pool *pgxpool.Pool, schema string) (*PostgresAttemptStore, error) {
	if pool == nil {
		return nil, errors.New("session: nil pool")
	}
	if schema == "" {
		schema = "codetalk"
	}
	return &PostgresAttemptStore{
		pool:  pool,
		table: pgx.Identifier{schema, "auth_attempts"}.Sanitize(),
	}, nil
}

func (s *PostgresAttemptStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, time.Time, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "auth_attempts:"+key); err != nil {
		return false, time.Time{}, fmt.Errorf("attempts lock: %w", err)
	}

	cut := now.Add(-window)
	if _, err := tx.Exec(ctx, `DELETE FROM `+s.table+` WHERE identifier = $1 AND attempted_at <= $2`, key, cut); err != nil {
		return false, time.Time{}, fmt.Errorf("attempts prune: %w", err)
	}

	var (
		count  int
		oldest *time.Time
	)
	if err := tx.QueryRow(ctx,
		`SELECT count(*), min(attempted_at) FROM `+s.table+` WHERE identifier = $1`, key,
	).Scan(&count, &oldest); err != nil {
		return false, time.Time{}, fmt.Errorf("attempts count: %w", err)
	}

	if count >= limit && oldest != nil {
		if err := tx.Commit(ctx); err != nil {
			return false, time.Time{}, err
		}
		return false, *oldest, nil
	}

	if _, err := tx.Exec(ctx, `INSERT INTO `+s.table+` (identifier, attempted_at) VALUES ($1, $2)`, key, now); err != nil {
		return false, time.Time{}, fmt.Errorf("attempts insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, time.Time{}, err
	}
	return true, time.Time{}, nil
}

func (s *PostgresAttemptStore) Clear(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE identifier = $1`, key)
	return err
}
