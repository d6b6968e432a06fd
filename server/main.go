package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chatsession/pkg/log"
	"chatsession/server/auth"
	"chatsession/server/config"
	"chatsession/server/room"
	"chatsession/server/store"
)

func main() {
	configPath := flag.String("config", "", "Config file or directory")
	addr := flag.String("addr", "", "Listen address, overrides server.host/port")
	issueToken := flag.String("issue-token", "", "Print a development token for this name and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.Init(cfg.Log)

	verifier := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if *issueToken != "" {
		token, err := verifier.Issue(*issueToken, cfg.Auth.TokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to issue token")
		}
		fmt.Println(token)
		return
	}

	messages, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer messages.Close()

	roomManager := room.NewManager()

	listen := cfg.Server.Addr()
	if *addr != "" {
		listen = *addr
	}
	srv := &http.Server{
		Handler:      newRouter(roomManager, messages, verifier, cfg.WebSocket, logger),
		Addr:         listen,
		WriteTimeout: cfg.Server.WriteTimeout,
		ReadTimeout:  cfg.Server.ReadTimeout,
	}

	logger.Info().Str("addr", listen).Str("store", cfg.Store.Driver).Msg("server starting")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("ListenAndServe error")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	roomManager.Shutdown()

	logger.Info().Msg("server exiting")
}

func openStore(cfg *config.Config) (store.MessageStore, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(cfg.Store.HistoryLimit), nil
	case "redis":
		s, err := store.NewRedisStore(store.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Limit:    cfg.Store.HistoryLimit,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
