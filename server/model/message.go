package model

import (
	"time"

	clientmodel "chatsession/client/model"
)

const MaxMessageLength = 500

// Message is the chat record on the wire; the client and backend share it.
type Message = clientmodel.ChatMessage

// ErrorFrame is written back to the sender only when an inbound frame is
// rejected.
type ErrorFrame struct {
	Status          string    `json:"status"` // always "ERROR"
	Error           string    `json:"error"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

func NewErrorFrame(reason string) ErrorFrame {
	return ErrorFrame{Status: "ERROR", Error: reason, ServerTimestamp: time.Now().UTC()}
}
