// Package log wires zerolog for the chat client and the dev backend: one
// process logger, request-scoped loggers carried in a context, and the field
// names both sides share.
package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Config is the `log` section of both config files.
type Config struct {
	Level       string `mapstructure:"level"`
	Pretty      bool   `mapstructure:"pretty"`
	ServiceName string `mapstructure:"service_name"`
}

var (
	mu      sync.RWMutex
	process = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// New builds a logger writing to w: JSON lines, or console output with a
// wall-clock prefix when cfg.Pretty is set.
func New(w io.Writer, cfg Config) zerolog.Logger {
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	lc := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.ServiceName != "" {
		lc = lc.Str(FieldService, cfg.ServiceName)
	}
	return lc.Logger()
}

// Init replaces the process logger and routes the standard library logger
// through it. The new logger is returned for convenience.
func Init(cfg Config) zerolog.Logger {
	logger := New(os.Stderr, cfg)

	mu.Lock()
	process = logger
	mu.Unlock()

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.With().Str(FieldSource, "stdlog").Logger())
	return logger
}

// L returns the process logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return process
}

func Nop() zerolog.Logger { return zerolog.Nop() }

// ParseLevel maps a configured level name to a zerolog level. Empty and
// unknown names mean info.
func ParseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "warning":
		name = "warn"
	case "off":
		name = "disabled"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
