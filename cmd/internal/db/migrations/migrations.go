// Package migrations embeds the SQL schema and applies it with goose.
//
// Migrations are written without schema qualifiers and run with search_path
// set to the target schema, so the same files serve production ("codetalk")
// and per-test schemas.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

const DefaultSchema = "codetalk"

var schemaRE = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidSchema reports whether s is a plain lowercase Postgres identifier.
func ValidSchema(s string) bool { return schemaRE.MatchString(s) }

// Up creates schema if needed and applies pending migrations inside it.
// It returns the versions applied by this call.
func Up(ctx context.Context, pool *pgxpool.Pool, schema string) ([]int64, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if !ValidSchema(schema) {
		return nil, fmt.Errorf("migrations: invalid schema %q", schema)
	}

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return nil, fmt.Errorf("migrations: create schema: %w", err)
	}

	cfg := pool.Config()
	cfg.MinConns = 0
	cfg.MaxConns = 2
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	scoped, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("migrations: scoped pool: %w", err)
	}
	defer scoped.Close()

	db := stdlib.OpenDBFromPool(scoped)
	defer func() { _ = db.Close() }()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, FS)
	if err != nil {
		return nil, fmt.Errorf("migrations: provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrations: up: %w", err)
	}

	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}
