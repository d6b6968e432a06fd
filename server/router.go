package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"chatsession/pkg/log"
	"chatsession/server/auth"
	"chatsession/server/handler"
	"chatsession/server/room"
	"chatsession/server/store"
)

func newRouter(manager *room.Manager, messages store.MessageStore, verifier *auth.Verifier, wsCfg room.Config, logger zerolog.Logger) http.Handler {
	chat := handler.NewChatHandler(messages)

	r := mux.NewRouter()
	r.Use(log.HTTPMiddleware(logger))
	r.HandleFunc("/health", handler.HandleHealth).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(auth.Middleware(verifier))
	api.HandleFunc("/chat/messages/{roomId}", chat.GetMessages).Methods("GET")
	api.HandleFunc("/chat/getUser", chat.GetUser).Methods("GET")
	api.HandleFunc("/chat/sendMessage", chat.SendMessage).Methods("POST")
	api.HandleFunc("/articles/{roomId}/rent", chat.Rent).Methods("POST")
	api.HandleFunc("/chat/{roomId}", handler.HandleWebSocket(manager, wsCfg))
	return r
}
