// Package transport owns the persistent websocket connection to one chat room.
//
// A Channel is created in the Connecting state and moves to Open once the
// handshake succeeds. Closed and Errored are terminal: a Channel is never
// reconnected, callers build a new one instead.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsession/client/model"
	"chatsession/pkg/log"
)

var (
	// ErrChannelNotReady is returned by Send when the channel is not Open.
	ErrChannelNotReady = errors.New("channel not ready")
	// ErrEmptyRoom is returned when no room id is given.
	ErrEmptyRoom = errors.New("room id is required")

	errMalformedFrame = errors.New("malformed frame")
)

// State is the connection state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// EventKind identifies a lifecycle or inbound event.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered on Channel.Events in arrival order.
type Event struct {
	Kind    EventKind
	Message model.ChatMessage
	Err     error
}

// Recorder receives transport level counters. metrics.Collector implements it.
type Recorder interface {
	RecordRetry()
	RecordDropped()
}

type nopRecorder struct{}

func (nopRecorder) RecordRetry()   {}
func (nopRecorder) RecordDropped() {}

// Config tunes the websocket connection.
type Config struct {
	BaseURL          string
	Token            string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	// DialRetries is the number of extra handshake attempts. Zero keeps the
	// single attempt behaviour.
	DialRetries    int
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 8192
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	return c
}

// Endpoint maps a room id to its websocket URL: <base>/chat/<roomId>.
// http and https bases are rewritten to ws and wss.
func Endpoint(base, roomID string) (string, error) {
	if strings.TrimSpace(roomID) == "" {
		return "", ErrEmptyRoom
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", base)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/") + "/chat/" + url.PathEscape(roomID), nil
}

// Option configures a Channel.
type Option func(*Channel)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Channel) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Channel is one websocket connection to one room.
type Channel struct {
	roomID   string
	endpoint string
	cfg      Config
	dialer   *websocket.Dialer
	logger   zerolog.Logger
	recorder Recorder

	state  atomic.Int32
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	closeOnce sync.Once

	// mu serialises data frame writes and guards conn.
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial creates a Channel for roomID in the Connecting state and starts the
// handshake in the background. The returned error only reports an invalid
// endpoint; handshake failures arrive as an EventError.
func Dial(ctx context.Context, roomID string, cfg Config, logger zerolog.Logger, opts ...Option) (*Channel, error) {
	endpoint, err := Endpoint(cfg.BaseURL, roomID)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		roomID:   roomID,
		endpoint: endpoint,
		cfg:      cfg,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.HandshakeTimeout},
		logger:   logger.With().Str(log.FieldRoomID, roomID).Str(log.FieldEndpoint, endpoint).Logger(),
		recorder: nopRecorder{},
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(int32(StateConnecting))

	go c.run(ctx)
	return c, nil
}

// RoomID returns the room this channel is bound to.
func (c *Channel) RoomID() string { return c.roomID }

// Endpoint returns the websocket URL.
func (c *Channel) Endpoint() string { return c.endpoint }

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Events returns the lifecycle and inbound message stream. It is closed once
// the channel reaches a terminal state.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send pushes msg as a JSON text frame. It fails with ErrChannelNotReady
// unless the channel is Open.
func (c *Channel) Send(msg model.ChatMessage) error {
	if c.State() != StateOpen {
		return ErrChannelNotReady
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.State() != StateOpen {
		return ErrChannelNotReady
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close forces the channel to Closed and releases the connection. It is safe
// to call more than once and from any state.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.moveTo(StateClosed)

		c.mu.Lock()
		conn := c.conn
		if conn != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
		c.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
		c.logger.Debug().Msg("channel closed locally")
	})
	return err
}

func (c *Channel) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// moveTo switches to a terminal state unless one was already reached.
func (c *Channel) moveTo(next State) bool {
	for {
		cur := c.State()
		if cur.Terminal() {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

func (c *Channel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.events)

	conn, err := c.handshake(ctx)
	if err != nil {
		if c.closing() {
			return
		}
		c.moveTo(StateErrored)
		c.logger.Error().Err(err).Msg("websocket handshake failed")
		c.emit(Event{Kind: EventError, Err: err})
		return
	}

	c.mu.Lock()
	if c.closing() {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	c.logger.Info().Msg("websocket connected")
	c.emit(Event{Kind: EventOpen})

	stop := make(chan struct{})
	go c.keepAlive(conn, stop)
	err = c.readLoop(conn)
	close(stop)
	_ = conn.Close()

	switch {
	case c.closing():
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		if c.moveTo(StateClosed) {
			c.logger.Info().Msg("websocket closed by peer")
			c.emit(Event{Kind: EventClosed})
		}
	default:
		if c.moveTo(StateErrored) {
			c.logger.Error().Err(err).Msg("websocket read failed")
			c.emit(Event{Kind: EventError, Err: err})
		}
	}
}

func (c *Channel) handshake(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	attempt := 0
	operation := func() (*websocket.Conn, error) {
		attempt++
		if attempt > 1 {
			c.recorder.RecordRetry()
			c.logger.Warn().Int(log.FieldAttempt, attempt).Msg("retrying websocket handshake")
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(fmt.Errorf("dial %s: status %d: %w", c.endpoint, resp.StatusCode, err))
			}
			return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
		}
		return conn, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryBaseDelay
	policy.Multiplier = 2

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.cfg.DialRetries+1)),
	)
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := decodeFrame(data)
		if err != nil {
			c.recorder.RecordDropped()
			c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("dropping inbound frame")
			continue
		}
		c.emit(Event{Kind: EventMessage, Message: msg})
	}
}

func (c *Channel) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// inboundFrame accepts a ChatMessage or a backend rejection.
type inboundFrame struct {
	model.ChatMessage
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func decodeFrame(data []byte) (model.ChatMessage, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return model.ChatMessage{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	if frame.Error != "" {
		return model.ChatMessage{}, fmt.Errorf("%w: backend rejected frame: %s", errMalformedFrame, frame.Error)
	}
	if frame.Sender == "" && frame.Message == "" {
		return model.ChatMessage{}, fmt.Errorf("%w: no sender or message", errMalformedFrame)
	}
	return frame.ChatMessage, nil
}
