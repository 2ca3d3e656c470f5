package pagination

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource runs keyset queries against one table. The ordering column
// must be a timestamptz column; cursors carry TimeKey values.
type PostgresSource[T any] struct {
	DB      Querier
	Table   pgx.Identifier
	Columns []string
	Scan    pgx.RowToFunc[T]
}

// Fetch rejects a Before value that is not a TimeKey with ErrInvalidCursor
// rather than letting the timestamptz cast fail in the database.
func (s PostgresSource[T]) Fetch(ctx context.Context, w Window) ([]T, error) {
	if w.HasBefore {
		if _, err := ParseTimeKey(w.Before); err != nil {
			return nil, err
		}
	}
	sql, args := s.build(w)
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, s.Scan)
}

func (s PostgresSource[T]) build(w Window) (string, []any) {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
	}

	var (
		conds []string
		args  []any
	)
	for _, eq := range w.Where {
		col := pgx.Identifier{eq.Field}.Sanitize()
		if eq.Value == nil {
			conds = append(conds, col+" IS NULL")
			continue
		}
		args = append(args, eq.Value)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	order := pgx.Identifier{w.OrderField}.Sanitize()
	if w.HasBefore {
		args = append(args, w.Before)
		conds = append(conds, fmt.Sprintf("%s < $%d::timestamptz", order, len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.Table.Sanitize())
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	args = append(args, w.Limit)
	fmt.Fprintf(&b, " ORDER BY %s DESC LIMIT $%d", order, len(args))
	return b.String(), args
}

var _ Querier = (pgx.Tx)(nil)
