package config

import (
	"fmt"
	"time"

	pkgconfig "chatsession/pkg/config"
	"chatsession/pkg/log"
)

type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Session SessionConfig `mapstructure:"session"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     log.Config    `mapstructure:"log"`
}

type BackendConfig struct {
	// HTTPURL serves the backlog, identity and persist endpoints.
	HTTPURL string `mapstructure:"http_url"`
	// WSURL is the live endpoint base; rooms live under /chat/<roomId>.
	WSURL       string        `mapstructure:"ws_url"`
	Token       string        `mapstructure:"token"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type SessionConfig struct {
	Room             string        `mapstructure:"room"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	DialRetries      int           `mapstructure:"dial_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	LedgerCapacity   int           `mapstructure:"ledger_capacity"`
}

type MetricsConfig struct {
	CSVPath string `mapstructure:"csv_path"`
}

// Load reads chat-client.yaml from configPath (a directory or file) and the
// environment. Missing files fall back to defaults.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "chat-client")
	if err != nil {
		return nil, err
	}

	v.SetDefault("backend.http_url", "http://localhost:8080")
	v.SetDefault("backend.ws_url", "ws://localhost:8080")
	v.SetDefault("backend.http_timeout", "10s")
	v.SetDefault("session.handshake_timeout", "10s")
	v.SetDefault("session.write_wait", "10s")
	v.SetDefault("session.pong_wait", "60s")
	v.SetDefault("session.max_message_size", 8192)
	v.SetDefault("session.dial_retries", 0)
	v.SetDefault("session.retry_base_delay", "100ms")
	v.SetDefault("session.ledger_capacity", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.service_name", "chat-client")

	_ = v.BindEnv("backend.token", "CHAT_TOKEN")
	_ = v.BindEnv("backend.http_url", "CHAT_HTTP_URL")
	_ = v.BindEnv("backend.ws_url", "CHAT_WS_URL")
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
