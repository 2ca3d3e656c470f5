package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		if got := parseLogLevel(tc.in); got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	if got, want := stripANSI(in), "INFO plain ERR"; got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("conn", "01J").WithGroup("req").Info("http.request",
		"method", "get",
		"status", 404,
		"duration_ms", int64(12),
		"err", errors.New("not found here"),
	)

	line := buf.String()
	for _, want := range []string{
		"INFO  http.request",
		"conn=01J",
		"req.method=GET",
		"req.status=404",
		"req.duration_ms=12ms",
		`req.err="not found here"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("colour disabled but found escape codes: %q", line)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, true))
	log.Info("dropped")
	log.Warn("kept")

	out := stripANSI(buf.String())
	if strings.Contains(out, "dropped") || !strings.Contains(out, "WARN  kept") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	log := NewLogger("debug", "json", &buf)
	log.Debug("server.start", "addr", ":4000")
	if !strings.Contains(buf.String(), `"msg":"server.start"`) {
		t.Fatalf("expected JSON record, got %q", buf.String())
	}
}
