package pagination

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
)

type row struct {
	ID   int
	At   time.Time
	Room int
}

func rowKey(r row) string { return TimeKey(r.At) }

// sliceSource mimics the Postgres source over an in-memory slice.
func sliceSource(rows []row) Source[row] {
	return SourceFunc[row](func(_ context.Context, w Window) ([]row, error) {
		var before time.Time
		if w.HasBefore {
			t, err := ParseTimeKey(w.Before)
			if err != nil {
				return nil, err
			}
			before = t
		}

		out := []row{}
		for _, r := range rows {
			if w.HasBefore && !r.At.Before(before) {
				continue
			}
			match := true
			for _, eq := range w.Where {
				if eq.Field == "room" && eq.Value != r.Room {
					match = false
				}
			}
			if match {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
		if len(out) > w.Limit {
			out = out[:w.Limit]
		}
		return out, nil
	})
}

func makeRows(n int) []row {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, n)
	for i := range rows {
		rows[i] = row{ID: i + 1, At: base.Add(time.Duration(i) * time.Second), Room: 5 + i%2*2}
	}
	return rows
}

func ids(rs []row) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestQuery_PageSizes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		rows     int
		limit    int
		wantIDs  []int
		wantNext bool
	}{
		{name: "n plus one rows", rows: 4, limit: 3, wantIDs: []int{4, 3, 2}, wantNext: true},
		{name: "exactly n rows", rows: 3, limit: 3, wantIDs: []int{3, 2, 1}},
		{name: "fewer rows", rows: 2, limit: 3, wantIDs: []int{2, 1}},
		{name: "no rows", rows: 0, limit: 3, wantIDs: []int{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := NewEngine(sliceSource(makeRows(tc.rows)), rowKey)
			page, err := e.Query(context.Background(), Request{Limit: tc.limit})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if diff := cmp.Diff(tc.wantIDs, ids(page.Edges)); diff != "" {
				t.Fatalf("edges mismatch (-want +got):\n%s", diff)
			}
			if page.PageInfo.HasNextPage != tc.wantNext {
				t.Fatalf("hasNextPage=%v want %v", page.PageInfo.HasNextPage, tc.wantNext)
			}
			if tc.rows == 0 && page.PageInfo.EndCursor != nil {
				t.Fatalf("endCursor must be nil for an empty page")
			}
			if tc.rows > 0 && page.PageInfo.EndCursor == nil {
				t.Fatalf("endCursor must be set")
			}
		})
	}
}

func TestQuery_WalksAllPagesWithFilter(t *testing.T) {
	t.Parallel()

	e := NewEngine(sliceSource(makeRows(11)), rowKey, WithDefaultLimit[row](2))
	where := []Eq{{Field: "room", Value: 5}}

	var (
		got    []int
		cursor string
	)
	for i := 0; i < 10; i++ {
		page, err := e.Query(context.Background(), Request{Cursor: cursor, Where: where})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		got = append(got, ids(page.Edges)...)
		if !page.PageInfo.HasNextPage {
			break
		}
		cursor = *page.PageInfo.EndCursor
	}

	want := []int{11, 9, 7, 5, 3, 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("walk mismatch (-want +got):\n%s", diff)
	}
}

func TestCursor_RoundTrip(t *testing.T) {
	t.Parallel()

	values := []string{
		TimeKey(time.Date(2026, 5, 6, 7, 8, 9, 123456789, time.UTC)),
		TimeKey(time.Date(2026, 5, 6, 7, 8, 9, 0, time.FixedZone("x", 3600))),
		"plain",
		"ünïcode/+=",
	}
	for _, v := range values {
		got, err := DecodeCursor(EncodeCursor(v))
		if err != nil || got != v {
			t.Fatalf("round trip %q -> (%q, %v)", v, got, err)
		}
	}

	ts := time.Date(2026, 5, 6, 7, 8, 9, 120000000, time.UTC)
	back, err := ParseTimeKey(TimeKey(ts))
	if err != nil || !back.Equal(ts) {
		t.Fatalf("time key round trip: %v %v", back, err)
	}
}

func TestQuery_InvalidCursor(t *testing.T) {
	t.Parallel()

	e := NewEngine(sliceSource(makeRows(3)), rowKey)
	_, err := e.Query(context.Background(), Request{Cursor: "%%%"})
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestQuery_ClampsLimit(t *testing.T) {
	t.Parallel()

	var seen int
	src := SourceFunc[row](func(_ context.Context, w Window) ([]row, error) {
		seen = w.Limit
		return nil, nil
	})
	e := NewEngine[row](src, rowKey)

	if _, err := e.Query(context.Background(), Request{}); err != nil {
		t.Fatal(err)
	}
	if seen != DefaultLimit+1 {
		t.Fatalf("default fetch=%d want %d", seen, DefaultLimit+1)
	}
	if _, err := e.Query(context.Background(), Request{Limit: 10_000}); err != nil {
		t.Fatal(err)
	}
	if seen != MaxLimit+1 {
		t.Fatalf("clamped fetch=%d want %d", seen, MaxLimit+1)
	}
}

func TestPostgresSource_Build(t *testing.T) {
	t.Parallel()

	s := PostgresSource[row]{
		Table:   pgx.Identifier{"codetalk", "messages"},
		Columns: []string{"id", "text", "created_at"},
	}
	sql, args := s.build(Window{
		Where:      []Eq{{Field: "room_id", Value: nil}, {Field: "user_id", Value: int64(3)}},
		OrderField: "created_at",
		Before:     "2026-01-01T00:00:00Z",
		HasBefore:  true,
		Limit:      11,
	})

	want := `SELECT "id", "text", "created_at" FROM "codetalk"."messages" WHERE "room_id" IS NULL AND "user_id" = $1 AND "created_at" < $2::timestamptz ORDER BY "created_at" DESC LIMIT $3`
	if sql != want {
		t.Fatalf("sql mismatch:\n got: %s\nwant: %s", sql, want)
	}
	if diff := cmp.Diff([]any{int64(3), "2026-01-01T00:00:00Z", 11}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(sql, "$4") {
		t.Fatalf("unexpected extra placeholder")
	}
}

type failQuerier struct{ t *testing.T }

func (q failQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	q.t.Fatal("query must not run for an invalid cursor")
	return nil, nil
}

func TestPostgresSource_RejectsNonTimeCursor(t *testing.T) {
	t.Parallel()

	s := PostgresSource[row]{
		DB:      failQuerier{t: t},
		Table:   pgx.Identifier{"messages"},
		Columns: []string{"id"},
	}
	_, err := s.Fetch(context.Background(), Window{OrderField: "created_at", Before: "hello", HasBefore: true, Limit: 2})
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("Fetch err=%v want ErrInvalidCursor", err)
	}

	e := NewEngine[row](s, func(r row) string { return "" })
	_, err = e.Query(context.Background(), Request{Cursor: EncodeCursor("hello")})
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("Query err=%v want ErrInvalidCursor", err)
	}
}
