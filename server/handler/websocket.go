package handler

import (
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsession/client/model"
	"chatsession/pkg/log"
	"chatsession/server/auth"
	servermodel "chatsession/server/model"
	"chatsession/server/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// validateMessage returns the rejection reason, or "" when msg is valid.
func validateMessage(msg *servermodel.Message) string {
	if msg.Sender == "" {
		return "sender is required"
	}

	n := utf8.RuneCountInString(msg.Message)
	if n < 1 || n > servermodel.MaxMessageLength {
		return "message must be 1-500 characters"
	}

	if msg.SendAt.IsZero() {
		return "sendAt is invalid"
	}

	if !msg.MessageType.Valid() {
		return "invalid messageType"
	}

	return ""
}

// HandleWebSocket upgrades /chat/{roomId} and relays every valid frame to the
// whole room, the sender included.
func HandleWebSocket(manager *room.Manager, cfg room.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomId := mux.Vars(r)["roomId"]
		if roomId == "" {
			http.Error(w, "Room ID is required", http.StatusBadRequest)
			return
		}

		_, logger := log.WithRoom(r.Context(), roomId)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("upgrade failed")
			return
		}

		name := auth.NameFrom(r.Context())
		rm := manager.GetRoom(roomId)
		client := room.NewClient(uuid.NewString(), name, rm, conn, cfg, logger)
		logger.Info().Str(log.FieldSender, name).Msg("client joined")

		client.Serve(func(c *room.Client, frame []byte) {
			relay(rm, c, frame, logger)
		})
		logger.Info().Str(log.FieldSender, name).Msg("client left")
	}
}

func relay(rm *room.Room, c *room.Client, frame []byte, logger zerolog.Logger) {
	var msg servermodel.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		reject(c, "Invalid JSON format")
		return
	}

	if msg.ChatRoomID == "" {
		msg.ChatRoomID = rm.ID
	} else if msg.ChatRoomID != rm.ID {
		reject(c, "chatRoomId does not match the room")
		return
	}
	if msg.Sender == "" {
		msg.Sender = c.Name
	}
	if msg.MessageType == "" {
		msg.MessageType = model.MessageTypeChat
	}
	if reason := validateMessage(&msg); reason != "" {
		logger.Debug().Str("reason", reason).Msg("frame rejected")
		reject(c, reason)
		return
	}

	out, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode frame")
		return
	}
	rm.Publish(out)
}

func reject(c *room.Client, reason string) {
	data, err := json.Marshal(servermodel.NewErrorFrame(reason))
	if err != nil {
		return
	}
	c.Reply(data)
}
