package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatsession/client/config"
	"chatsession/client/history"
	"chatsession/client/metrics"
	"chatsession/client/sender"
	"chatsession/client/session"
	"chatsession/client/transport"
	"chatsession/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "Config file or directory")
	room := flag.String("room", "", "Room id to join")
	token := flag.String("token", "", "Bearer token")
	httpURL := flag.String("http", "", "Backend HTTP base URL")
	wsURL := flag.String("ws", "", "Backend websocket base URL")
	rent := flag.Bool("rent", false, "Rent the item bound to the room and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *room != "" {
		cfg.Session.Room = *room
	}
	if *token != "" {
		cfg.Backend.Token = *token
	}
	if *httpURL != "" {
		cfg.Backend.HTTPURL = *httpURL
	}
	if *wsURL != "" {
		cfg.Backend.WSURL = *wsURL
	}

	logger := log.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := history.NewClient(cfg.Backend.HTTPURL, cfg.Backend.HTTPTimeout, logger)

	if *rent {
		if err := backend.Rent(ctx, cfg.Backend.Token, cfg.Session.Room); err != nil {
			logger.Fatal().Err(err).Str(log.FieldRoomID, cfg.Session.Room).Msg("rent failed")
		}
		fmt.Println("Rented.")
		return
	}

	collector, err := metrics.NewCollector(cfg.Metrics.CSVPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create collector")
	}
	collector.Start()

	presenter := newTerminalPresenter(os.Stdout)
	ctrl := session.New(session.Config{
		Transport: transport.Config{
			BaseURL:          cfg.Backend.WSURL,
			HandshakeTimeout: cfg.Session.HandshakeTimeout,
			WriteWait:        cfg.Session.WriteWait,
			PongWait:         cfg.Session.PongWait,
			MaxMessageSize:   cfg.Session.MaxMessageSize,
			DialRetries:      cfg.Session.DialRetries,
			RetryBaseDelay:   cfg.Session.RetryBaseDelay,
		},
		LedgerCapacity: cfg.Session.LedgerCapacity,
	}, session.Dependencies{
		Auth: session.StaticAuth{
			Value:    cfg.Backend.Token,
			OnSignIn: func() { fmt.Fprintln(os.Stderr, "Sign in first: pass -token or set CHAT_TOKEN.") },
		},
		Loader:    backend,
		Presenter: presenter,
		Metrics:   collector,
		Logger:    logger,
	})
	presenter.isMine = ctrl.IsMine

	if err := ctrl.Join(ctx, cfg.Session.Room); err != nil {
		collector.Close()
		if errors.Is(err, session.ErrNotReady) {
			os.Exit(2)
		}
		logger.Fatal().Err(err).Msg("failed to join room")
	}
	fmt.Printf("Joined room %s. Type a message, /rent or /quit.\n", cfg.Session.Room)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				break loop
			case "/rent":
				if err := backend.Rent(ctx, cfg.Backend.Token, cfg.Session.Room); err != nil {
					fmt.Printf("* rent failed: %v\n", err)
				} else {
					fmt.Println("* rented")
				}
				continue
			}
			if _, err := ctrl.Send(ctx, line); err != nil && !errors.Is(err, sender.ErrEmptyMessage) {
				logger.Debug().Err(err).Msg("send rejected")
			}
		}
	}

	ctrl.Leave()
	collector.Close()
	<-collector.Done
	collector.PrintSummary(os.Stdout)
}
