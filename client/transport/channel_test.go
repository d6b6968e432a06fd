package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatsession/client/model"
	"chatsession/pkg/log"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newWSServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialChannel(t *testing.T, srv *httptest.Server, roomID string, cfg Config) *Channel {
	t.Helper()
	cfg.BaseURL = srv.URL
	ch, err := Dial(context.Background(), roomID, cfg, log.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func nextEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		room    string
		want    string
		wantErr bool
	}{
		{name: "ws base", base: "ws://localhost:8080", room: "42", want: "ws://localhost:8080/chat/42"},
		{name: "trailing slash", base: "ws://localhost:8080/", room: "42", want: "ws://localhost:8080/chat/42"},
		{name: "http rewritten", base: "http://example.com/api", room: "r1", want: "ws://example.com/api/chat/r1"},
		{name: "https rewritten", base: "https://example.com", room: "r1", want: "wss://example.com/chat/r1"},
		{name: "room escaped", base: "ws://h", room: "a b/c", want: "ws://h/chat/a%20b%2Fc"},
		{name: "empty room", base: "ws://h", room: " ", wantErr: true},
		{name: "bad scheme", base: "ftp://h", room: "1", wantErr: true},
		{name: "no host", base: "ws://", room: "1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(tt.base, tt.room)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("endpoint: %v", err)
			}
			if got != tt.want {
				t.Fatalf("endpoint = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChannelOpenThenMessagesInOrder(t *testing.T) {
	var gotPath, gotAuth atomic.Value
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotAuth.Store(r.Header.Get("Authorization"))
		for _, text := range []string{"one", "two", "three"} {
			_ = conn.WriteJSON(model.ChatMessage{ChatRoomID: "R1", Sender: "B", MessageType: model.MessageTypeChat, Message: text})
		}
		_, _, _ = conn.ReadMessage()
	})

	ch := dialChannel(t, srv, "R1", Config{Token: "secret"})

	if ev := nextEvent(t, ch); ev.Kind != EventOpen {
		t.Fatalf("first event = %v, want open", ev.Kind)
	}
	if ch.State() != StateOpen {
		t.Fatalf("state = %v, want open", ch.State())
	}
	for _, want := range []string{"one", "two", "three"} {
		ev := nextEvent(t, ch)
		if ev.Kind != EventMessage || ev.Message.Message != want {
			t.Fatalf("event = %+v, want message %q", ev, want)
		}
	}
	if got := gotPath.Load(); got != "/chat/R1" {
		t.Fatalf("path = %v, want /chat/R1", got)
	}
	if got := gotAuth.Load(); got != "Bearer secret" {
		t.Fatalf("authorization = %v", got)
	}
}

func TestChannelDropsMalformedFrames(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"ERROR","error":"invalid messageType"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{}`))
		_ = conn.WriteJSON(model.ChatMessage{Sender: "A", Message: "kept"})
		_, _, _ = conn.ReadMessage()
	})

	ch := dialChannel(t, srv, "R1", Config{})
	if ev := nextEvent(t, ch); ev.Kind != EventOpen {
		t.Fatalf("first event = %v, want open", ev.Kind)
	}
	ev := nextEvent(t, ch)
	if ev.Kind != EventMessage || ev.Message.Message != "kept" {
		t.Fatalf("event = %+v, want the valid frame", ev)
	}
	if ch.State() != StateOpen {
		t.Fatalf("state = %v, malformed frames must not be fatal", ch.State())
	}
}

func TestDecodeFrameTimestamps(t *testing.T) {
	tests := []struct {
		name string
		at   string
		want time.Time
	}{
		{name: "offset-less", at: `"2024-01-01T00:00:00"`, want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)},
		{name: "utc", at: `"2024-01-01T00:00:05Z"`, want: time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)},
		{name: "empty", at: `""`},
		{name: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := `{"chatRoomId":"R1","sender":"A","messageType":"CHAT","message":"hi"`
			if tt.at != "" {
				frame += `,"sendAt":` + tt.at
			}
			frame += `}`

			msg, err := decodeFrame([]byte(frame))
			if err != nil {
				t.Fatalf("decode %s: %v", frame, err)
			}
			if msg.Message != "hi" || !msg.SendAt.Equal(tt.want) {
				t.Fatalf("decoded %+v, want sendAt %v", msg, tt.want)
			}
		})
	}
}

func TestChannelDeliversOffsetlessFrame(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"chatRoomId":"R1","sender":"B","messageType":"CHAT","message":"local","sendAt":"2024-01-01T00:00:00"}`))
		_, _, _ = conn.ReadMessage()
	})

	ch := dialChannel(t, srv, "R1", Config{})
	if ev := nextEvent(t, ch); ev.Kind != EventOpen {
		t.Fatalf("first event = %v, want open", ev.Kind)
	}
	ev := nextEvent(t, ch)
	if ev.Kind != EventMessage || ev.Message.Message != "local" || ev.Message.SendAt.IsZero() {
		t.Fatalf("event = %+v, want the offset-less frame", ev)
	}
}

func TestChannelSendRequiresOpen(t *testing.T) {
	release := make(chan struct{})
	received := make(chan model.ChatMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg model.ChatMessage
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	ch := dialChannel(t, srv, "R1", Config{})
	if ch.State() != StateConnecting {
		t.Fatalf("state = %v, want connecting", ch.State())
	}
	if err := ch.Send(model.ChatMessage{Message: "early"}); !errors.Is(err, ErrChannelNotReady) {
		t.Fatalf("send while connecting = %v, want ErrChannelNotReady", err)
	}

	close(release)
	if ev := nextEvent(t, ch); ev.Kind != EventOpen {
		t.Fatalf("event = %v, want open", ev.Kind)
	}
	if err := ch.Send(model.ChatMessage{Sender: "A", Message: "hello"}); err != nil {
		t.Fatalf("send while open: %v", err)
	}
	select {
	case msg := <-received:
		if msg.Message != "hello" {
			t.Fatalf("server got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ch.State() != StateClosed {
		t.Fatalf("state after close = %v", ch.State())
	}
	if err := ch.Send(model.ChatMessage{Message: "late"}); !errors.Is(err, ErrChannelNotReady) {
		t.Fatalf("send after close = %v, want ErrChannelNotReady", err)
	}
}

func TestChannelHandshakeFailureErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	ch := dialChannel(t, srv, "missing", Config{DialRetries: 3, RetryBaseDelay: time.Millisecond})
	ev := nextEvent(t, ch)
	if ev.Kind != EventError || ev.Err == nil {
		t.Fatalf("event = %+v, want error", ev)
	}
	if ch.State() != StateErrored {
		t.Fatalf("state = %v, want errored", ch.State())
	}
	if err := ch.Send(model.ChatMessage{Message: "x"}); !errors.Is(err, ErrChannelNotReady) {
		t.Fatalf("send after error = %v", err)
	}
	if _, ok := <-ch.Events(); ok {
		t.Fatal("events channel should be closed after a terminal state")
	}
}

type countingRecorder struct {
	retries atomic.Int32
	dropped atomic.Int32
}

func (r *countingRecorder) RecordRetry()   { r.retries.Add(1) }
func (r *countingRecorder) RecordDropped() { r.dropped.Add(1) }

func TestChannelRetriesHandshake(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	rec := &countingRecorder{}
	ch, err := Dial(context.Background(), "R1", Config{
		BaseURL:        srv.URL,
		DialRetries:    5,
		RetryBaseDelay: time.Millisecond,
	}, log.Nop(), WithRecorder(rec))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })

	if ev := nextEvent(t, ch); ev.Kind != EventOpen {
		t.Fatalf("event = %+v, want open", ev)
	}
	if got := rec.retries.Load(); got != 2 {
		t.Fatalf("retries = %d, want 2", got)
	}
}

func TestChannelPeerCloseIsGraceful(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	})

	ch := dialChannel(t, srv, "R1", Config{})
	if ev := nextEvent(t, ch); ev.Kind != EventOpen {
		t.Fatalf("event = %v, want open", ev.Kind)
	}
	if ev := nextEvent(t, ch); ev.Kind != EventClosed {
		t.Fatalf("event = %+v, want closed", ev)
	}
	if ch.State() != StateClosed {
		t.Fatalf("state = %v, want closed", ch.State())
	}
}

func TestChannelAbruptDropErrors(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.UnderlyingConn().Close()
	})

	ch := dialChannel(t, srv, "R1", Config{})
	if ev := nextEvent(t, ch); ev.Kind != EventOpen {
		t.Fatalf("event = %v, want open", ev.Kind)
	}
	ev := nextEvent(t, ch)
	if ev.Kind != EventError {
		t.Fatalf("event = %+v, want error", ev)
	}
	if ch.State() != StateErrored {
		t.Fatalf("state = %v, want errored", ch.State())
	}
}

func TestDialRejectsEmptyRoom(t *testing.T) {
	_, err := Dial(context.Background(), "", Config{BaseURL: "ws://localhost"}, log.Nop())
	if !errors.Is(err, ErrEmptyRoom) {
		t.Fatalf("err = %v, want ErrEmptyRoom", err)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosed:     "closed",
		StateErrored:    "errored",
	} {
		if got := state.String(); !strings.EqualFold(got, want) {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}
