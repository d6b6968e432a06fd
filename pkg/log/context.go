package log

import (
	"context"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Ctx returns the logger carried by ctx, or the process logger.
func Ctx(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return L()
}

// WithRoom tags the logger in ctx with roomID. Handlers scoped to one room
// call it once and log through the result.
func WithRoom(ctx context.Context, roomID string) (context.Context, zerolog.Logger) {
	logger := Ctx(ctx).With().Str(FieldRoomID, roomID).Logger()
	return WithLogger(ctx, logger), logger
}
