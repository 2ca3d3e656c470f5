// Package pagination implements cursor-based keyset paging over record sets
// ordered by a single field, newest first.
//
// A page is fetched with limit+1 rows so the extra row signals hasNextPage
// without a count query. Cursors are base64 of the ordering field's string
// form and are opaque to clients.
package pagination

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	DefaultOrderField = "created_at"
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Eq is an equality filter. A nil Value matches NULL.
type Eq struct {
	Field string
	Value any
}

// Window is what a Source must return: rows matching Where, ordered by
// OrderField descending, strictly below Before when HasBefore is set, at most
// Limit rows.
type Window struct {
	Where      []Eq
	OrderField string
	Before     string
	HasBefore  bool
	Limit      int
}

// Source fetches one window of rows.
type Source[T any] interface {
	Fetch(ctx context.Context, w Window) ([]T, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func(ctx context.Context, w Window) ([]T, error)

func (f SourceFunc[T]) Fetch(ctx context.Context, w Window) ([]T, error) { return f(ctx, w) }

// Request is a client page request.
type Request struct {
	Cursor string
	Limit  int
	Where  []Eq
}

type PageInfo struct {
	EndCursor   *string `json:"endCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

type Page[T any] struct {
	Edges    []T      `json:"edges"`
	PageInfo PageInfo `json:"pageInfo"`
}

// Engine pages over a Source. Key returns the ordering-field value of a row in
// the same string form Source compares against.
type Engine[T any] struct {
	src          Source[T]
	key          func(T) string
	orderField   string
	defaultLimit int
}

type Option[T any] func(*Engine[T])

func WithOrderField[T any](field string) Option[T] {
	return func(e *Engine[T]) { e.orderField = field }
}

func WithDefaultLimit[T any](n int) Option[T] {
	return func(e *Engine[T]) {
		if n > 0 {
			e.defaultLimit = n
		}
	}
}

func NewEngine[T any](src Source[T], key func(T) string, opts ...Option[T]) *Engine[T] {
	e := &Engine[T]{
		src:          src,
		key:          key,
		orderField:   DefaultOrderField,
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns the first limit rows after req.Cursor.
func (e *Engine[T]) Query(ctx context.Context, req Request) (Page[T], error) {
	limit := req.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	w := Window{
		Where:      req.Where,
		OrderField: e.orderField,
		Limit:      limit + 1,
	}
	if req.Cursor != "" {
		v, err := DecodeCursor(req.Cursor)
		if err != nil {
			return Page[T]{}, err
		}
		w.Before, w.HasBefore = v, true
	}

	rows, err := e.src.Fetch(ctx, w)
	if err != nil {
		return Page[T]{}, fmt.Errorf("pagination: fetch: %w", err)
	}

	page := Page[T]{Edges: rows}
	if len(rows) > limit {
		page.Edges = rows[:limit]
		page.PageInfo.HasNextPage = true
	}
	if page.Edges == nil {
		page.Edges = []T{}
	}
	if n := len(page.Edges); n > 0 {
		c := EncodeCursor(e.key(page.Edges[n-1]))
		page.PageInfo.EndCursor = &c
	}
	return page, nil
}

func EncodeCursor(v string) string {
	return base64.StdEncoding.EncodeToString([]byte(v))
}

func DecodeCursor(c string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(c)
	if err != nil || len(b) == 0 {
		return "", ErrInvalidCursor
	}
	return string(b), nil
}

// TimeKey is the canonical string form of a time ordering value.
func TimeKey(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// ParseTimeKey reverses TimeKey.
func ParseTimeKey(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, ErrInvalidCursor
	}
	return t, nil
}
