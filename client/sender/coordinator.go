// Package sender dispatches locally authored messages over both the persist
// call and the live channel.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatsession/client/model"
	"chatsession/client/transport"
	"chatsession/pkg/log"
)

var (
	// ErrEmptyMessage rejects a send with no text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrChannelNotReady rejects a send while the live channel is not open.
	ErrChannelNotReady = transport.ErrChannelNotReady
	// ErrPersistFailure wraps a failed durability call.
	ErrPersistFailure = errors.New("persist failed")
)

// Persister is the request/response durability path.
type Persister interface {
	PersistMessage(ctx context.Context, msg model.ChatMessage) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(ctx context.Context, msg model.ChatMessage) error

func (f PersistFunc) PersistMessage(ctx context.Context, msg model.ChatMessage) error {
	return f(ctx, msg)
}

// Channel is the live fan-out path. *transport.Channel implements it.
type Channel interface {
	State() transport.State
	Send(msg model.ChatMessage) error
}

// Recorder receives per-send timings. metrics.Collector implements it.
type Recorder interface {
	RecordSend(roomID string, persist, broadcast time.Duration, persistErr, broadcastErr error)
}

// Outcome reports what happened on each path of one send.
type Outcome struct {
	Message      model.ChatMessage
	PersistErr   error
	BroadcastErr error
	// Cleared is true once the persist attempt finished and the input hook ran.
	Cleared bool
}

// Delivered reports whether at least one path accepted the message.
func (o Outcome) Delivered() bool {
	return o.PersistErr == nil || o.BroadcastErr == nil
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPersisted sets the hook run right after the persist attempt settles,
// before the live send. The session clears the input buffer here.
func WithPersisted(fn func(model.ChatMessage)) Option {
	return func(c *Coordinator) { c.onPersisted = fn }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Coordinator validates and dispatches one message at a time. The channel
// handle is injected; it never reads connection state from anywhere else.
type Coordinator struct {
	persister   Persister
	channel     Channel
	logger      zerolog.Logger
	onPersisted func(model.ChatMessage)
	recorder    Recorder
	newID       func() string
}

// New creates a Coordinator bound to one channel.
func New(persister Persister, channel Channel, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		persister: persister,
		channel:   channel,
		logger:    logger,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send validates text and dispatches it: persist first, then the live push,
// whatever the persist outcome was. The returned error is only set when the
// send was rejected before any dispatch; path failures are in the Outcome.
// The message is not added to any ledger here; it comes back through the
// channel's inbound stream.
func (c *Coordinator) Send(ctx context.Context, roomID, sender, text string, sentAt time.Time) (Outcome, error) {
	if model.IsBlank(text) {
		return Outcome{}, ErrEmptyMessage
	}
	if c.channel == nil || c.channel.State() != transport.StateOpen {
		return Outcome{}, ErrChannelNotReady
	}

	msg := model.NewChat(c.newID(), roomID, sender, text, sentAt)
	out := Outcome{Message: msg}
	logger := c.logger.With().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldMessageID, msg.ID).
		Logger()

	start := time.Now()
	if err := c.persister.PersistMessage(ctx, msg); err != nil {
		out.PersistErr = fmt.Errorf("%w: %w", ErrPersistFailure, err)
		logger.Error().Err(err).Msg("persist failed, still broadcasting")
	}
	persistTook := time.Since(start)

	if c.onPersisted != nil {
		c.onPersisted(msg)
	}
	out.Cleared = true

	start = time.Now()
	if err := c.channel.Send(msg); err != nil {
		out.BroadcastErr = fmt.Errorf("broadcast: %w", err)
		logger.Error().Err(err).Msg("live send failed")
	}
	broadcastTook := time.Since(start)

	if c.recorder != nil {
		c.recorder.RecordSend(roomID, persistTook, broadcastTook, out.PersistErr, out.BroadcastErr)
	}
	return out, nil
}
