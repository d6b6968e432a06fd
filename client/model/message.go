package model

import (
	"strings"
	"time"
)

// MessageType tags a ChatMessage. Only CHAT is produced by the client; the
// others are reserved for system notices pushed by the backend.
type MessageType string

const (
	MessageTypeChat   MessageType = "CHAT"
	MessageTypeJoin   MessageType = "JOIN"
	MessageTypeLeave  MessageType = "LEAVE"
	MessageTypeNotice MessageType = "NOTICE"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeChat, MessageTypeJoin, MessageTypeLeave, MessageTypeNotice:
		return true
	}
	return false
}

// ChatMessage is one message instance as carried on the live channel and
// returned by the backlog endpoint. SendAt is assigned by the author.
type ChatMessage struct {
	ID          string      `json:"messageId,omitempty"`
	ChatRoomID  string      `json:"chatRoomId"`
	Sender      string      `json:"sender"`
	MessageType MessageType `json:"messageType"`
	Message     string      `json:"message"`
	SendAt      Timestamp   `json:"sendAt"`
}

// User is the identity returned by the user resolution endpoint.
type User struct {
	Name string `json:"name"`
}

// NewChat builds an outbound CHAT message.
func NewChat(id, roomID, sender, text string, sendAt time.Time) ChatMessage {
	return ChatMessage{
		ID:          id,
		ChatRoomID:  roomID,
		Sender:      sender,
		MessageType: MessageTypeChat,
		Message:     text,
		SendAt:      At(sendAt.UTC()),
	}
}

// IsBlank reports whether text carries no content.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
