// Package store keeps persisted chat messages and room rentals for the
// development backend.
package store

import (
	"context"
	"sync"

	"chatsession/client/model"
)

// MessageStore persists messages per room and serves them in insertion order.
type MessageStore interface {
	Append(ctx context.Context, msg model.ChatMessage) error
	List(ctx context.Context, roomID string) ([]model.ChatMessage, error)
	// Rent records renter against roomID. It reports false when the room was
	// already rented.
	Rent(ctx context.Context, roomID, renter string) (bool, error)
	Close() error
}

// MemoryStore is an in-process MessageStore.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]model.ChatMessage
	rentals  map[string]string
	limit    int
}

// NewMemoryStore keeps at most limit messages per room; zero keeps all.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]model.ChatMessage),
		rentals:  make(map[string]string),
		limit:    limit,
	}
}

func (s *MemoryStore) Append(_ context.Context, msg model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.messages[msg.ChatRoomID], msg)
	if s.limit > 0 && len(list) > s.limit {
		list = append([]model.ChatMessage(nil), list[len(list)-s.limit:]...)
	}
	s.messages[msg.ChatRoomID] = list
	return nil
}

func (s *MemoryStore) List(_ context.Context, roomID string) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ChatMessage{}, s.messages[roomID]...), nil
}

func (s *MemoryStore) Rent(_ context.Context, roomID, renter string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rentals[roomID]; ok {
		return false, nil
	}
	s.rentals[roomID] = renter
	return true, nil
}

func (s *MemoryStore) Close() error { return nil }
