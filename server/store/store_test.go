package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"chatsession/client/model"
)

func msg(room, text string) model.ChatMessage {
	return model.ChatMessage{
		ChatRoomID:  room,
		Sender:      "alice",
		MessageType: model.MessageTypeChat,
		Message:     text,
		SendAt:      model.At(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

// exercise runs the behaviour every MessageStore must share.
func exercise(t *testing.T, s MessageStore, room string) {
	t.Helper()
	ctx := context.Background()

	empty, err := s.List(ctx, room)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("empty list = %#v, want non-nil empty", empty)
	}

	for i := 1; i <= 4; i++ {
		if err := s.Append(ctx, msg(room, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Append(ctx, msg(room+"-other", "elsewhere")); err != nil {
		t.Fatalf("append other room: %v", err)
	}

	got, err := s.List(ctx, room)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Limit is 3: the oldest message is trimmed.
	if len(got) != 3 || got[0].Message != "m2" || got[2].Message != "m4" {
		t.Fatalf("list = %+v", got)
	}

	ok, err := s.Rent(ctx, room, "alice")
	if err != nil || !ok {
		t.Fatalf("first rent = %v, %v", ok, err)
	}
	ok, err = s.Rent(ctx, room, "bob")
	if err != nil || ok {
		t.Fatalf("second rent = %v, %v; want false", ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore(3), "R1")
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDRESS not set")
	}
	prefix := fmt.Sprintf("chat-test-%d", time.Now().UnixNano())
	s, err := NewRedisStore(RedisOptions{Address: addr, Prefix: prefix, Limit: 3})
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		s.client.Del(ctx, s.messagesKey("R1"), s.messagesKey("R1-other"), s.rentKey("R1"))
		_ = s.Close()
	})
	exercise(t, s, "R1")
}
