package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatsession/client/model"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	Limit    int
}

// RedisStore keeps each room as a list of JSON messages under
// <prefix>:messages:<roomId> and rentals under <prefix>:rent:<roomId>.
type RedisStore struct {
	client *redis.Client
	prefix string
	limit  int
}

func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "chat"
	}
	return &RedisStore{client: client, prefix: prefix, limit: opts.Limit}, nil
}

func (s *RedisStore) messagesKey(roomID string) string {
	return fmt.Sprintf("%s:messages:%s", s.prefix, roomID)
}

func (s *RedisStore) rentKey(roomID string) string {
	return fmt.Sprintf("%s:rent:%s", s.prefix, roomID)
}

func (s *RedisStore) Append(ctx context.Context, msg model.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := s.messagesKey(msg.ChatRoomID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if s.limit > 0 {
			pipe.LTrim(ctx, key, int64(-s.limit), -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, s.messagesKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]model.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *RedisStore) Rent(ctx context.Context, roomID, renter string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.rentKey(roomID), renter, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to rent: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
