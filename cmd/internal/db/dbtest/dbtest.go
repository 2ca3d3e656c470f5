// Package dbtest opens a migrated, throwaway Postgres schema for integration
// tests.
//
// Tests run against CODETALK_TEST_DATABASE_URL when set. With
// CODETALK_TEST_CONTAINERS=1 a postgres:16-alpine container is started
// instead. Without either, callers are skipped so "go test ./..." stays fast.
package dbtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"codetalk/cmd/internal/db/migrations"
)

// DB is a pool plus the isolated schema it was migrated into.
type DB struct {
	Pool   *pgxpool.Pool
	Schema string
	URL    string
}

// Open returns a pool whose search_path is a fresh schema with all migrations
// applied. The schema is dropped when the test ends.
func Open(t testing.TB) *DB {
	t.Helper()

	url := databaseURL(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(admin.Close)

	schema := "codetalk_it_" + randomHex(6)
	if _, err := migrations.Up(ctx, admin, schema); err != nil {
		t.Fatalf("migrate %s: %v", schema, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("scoped pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &DB{Pool: pool, Schema: schema, URL: url}
}

func databaseURL(t testing.TB) string {
	t.Helper()

	if raw := strings.TrimSpace(os.Getenv("CODETALK_TEST_DATABASE_URL")); raw != "" {
		return raw
	}
	if os.Getenv("CODETALK_TEST_CONTAINERS") != "1" {
		t.Skip("integration test skipped: set CODETALK_TEST_DATABASE_URL or CODETALK_TEST_CONTAINERS=1")
	}
	return startContainer(t)
}

func startContainer(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "codetalk",
			"POSTGRES_PASSWORD": "codetalk",
			"POSTGRES_DB":       "codetalk",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return fmt.Sprintf("postgres://codetalk:codetalk@%s:%s/codetalk?sslmode=disable", host, port.Port())
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
