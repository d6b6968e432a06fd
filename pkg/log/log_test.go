package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"trace":   zerolog.TraceLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewTagsServiceAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Config{Level: "warn", ServiceName: "chat-server"})
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0][FieldService] != "chat-server" || lines[0]["message"] != "shown" {
		t.Fatalf("line = %v", lines[0])
	}
}

func TestWithRoomCarriesRoomID(t *testing.T) {
	var buf bytes.Buffer
	base := WithLogger(context.Background(), New(&buf, Config{}))

	ctx, logger := WithRoom(base, "R1")
	logger.Info().Msg("direct")
	ctx2 := Ctx(ctx)
	ctx2.Info().Msg("from context")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		if line[FieldRoomID] != "R1" {
			t.Fatalf("line = %v, want room_id R1", line)
		}
	}
}

func TestCtxFallsBackToProcessLogger(t *testing.T) {
	got := Ctx(context.Background())
	if got.GetLevel() != L().GetLevel() {
		t.Fatalf("level = %v, want the process logger's %v", got.GetLevel(), L().GetLevel())
	}
}

func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	var sawLogger bool
	handler := HTTPMiddleware(New(&buf, Config{}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawLogger = r.Context().Value(loggerKey{}).(zerolog.Logger)
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/chat/messages/R1", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !sawLogger {
		t.Fatal("handler context has no request logger")
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("request id header not set")
	}
	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	line := lines[0]
	if line[FieldStatus] != float64(http.StatusTeapot) || line[FieldClientIP] != "10.0.0.1" || line[FieldPath] != "/chat/messages/R1" {
		t.Fatalf("line = %v", line)
	}
}
