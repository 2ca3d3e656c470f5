package ids

import (
	"testing"
	"time"
)

func TestNew_MonotonicWithinMillisecond(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := New(now)
	for i := 0; i < 100; i++ {
		next := New(now)
		if len(next) != 26 {
			t.Fatalf("len=%d want 26", len(next))
		}
		if next <= prev {
			t.Fatalf("ids not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if !Valid(New(time.Now())) {
		t.Fatalf("expected generated id to be valid")
	}
	if Valid("not-a-ulid") {
		t.Fatalf("expected garbage to be invalid")
	}
}
