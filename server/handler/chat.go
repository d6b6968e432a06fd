package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatsession/client/model"
	"chatsession/pkg/log"
	"chatsession/server/auth"
	servermodel "chatsession/server/model"
	"chatsession/server/store"
)

// ChatHandler serves the request/response endpoints the chat client uses
// next to the live channel.
type ChatHandler struct {
	store store.MessageStore
}

func NewChatHandler(s store.MessageStore) *ChatHandler {
	return &ChatHandler{store: s}
}

// GetMessages handles GET /chat/messages/{roomId}.
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	ctx, logger := log.WithRoom(r.Context(), roomId)
	messages, err := h.store.List(ctx, roomId)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list messages")
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// GetUser handles GET /chat/getUser.
func (h *ChatHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.User{Name: auth.NameFrom(r.Context())})
}

// SendMessage handles POST /chat/sendMessage. It only persists; live delivery
// is the client's websocket send.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var msg servermodel.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if msg.ChatRoomID == "" {
		writeError(w, http.StatusBadRequest, "chatRoomId is required")
		return
	}
	if msg.Sender == "" {
		msg.Sender = auth.NameFrom(r.Context())
	}
	if reason := validateMessage(&msg); reason != "" {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	ctx, logger := log.WithRoom(r.Context(), msg.ChatRoomID)
	logger = logger.With().Str(log.FieldMessageID, msg.ID).Logger()
	if err := h.store.Append(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("failed to persist message")
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}
	logger.Debug().Msg("message persisted")
	writeJSON(w, http.StatusCreated, msg)
}

// Rent handles POST /articles/{roomId}/rent.
func (h *ChatHandler) Rent(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	ctx, logger := log.WithRoom(r.Context(), roomId)
	ok, err := h.store.Rent(ctx, roomId, auth.NameFrom(ctx))
	if err != nil {
		logger.Error().Err(err).Msg("failed to rent")
		writeError(w, http.StatusInternalServerError, "failed to rent")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "already rented")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, servermodel.NewErrorFrame(reason))
}
