// Package session orchestrates one chat room at a time: it owns the live
// channel, seeds the ledger from the backlog once the channel opens, feeds
// inbound frames into the ledger and exposes the send operation.
//
// Each session runs a single loop goroutine. Channel events and fetch
// completions are both applied there, so the ledger has exactly one writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatsession/client/ledger"
	"chatsession/client/metrics"
	"chatsession/client/model"
	"chatsession/client/sender"
	"chatsession/client/transport"
	"chatsession/pkg/log"
)

var (
	// ErrNotReady means the credential or room id is missing.
	ErrNotReady = errors.New("not ready to join")
	// ErrConnectionFailure wraps a channel that never opened or dropped.
	ErrConnectionFailure = errors.New("connection failure")
	// ErrFetchFailure wraps a failed backlog or user fetch.
	ErrFetchFailure = errors.New("fetch failure")
)

// Config holds session tuning.
type Config struct {
	Transport      transport.Config
	LedgerCapacity int
}

// Dependencies are the collaborators of a Controller.
type Dependencies struct {
	Auth      Auth
	Loader    Loader
	Presenter Presenter
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
	// Dial defaults to transport.Dial with Config.Transport.
	Dial DialFunc
	Now  func() time.Time
}

// Controller owns the lifetime of the active session.
type Controller struct {
	cfg       Config
	auth      Auth
	loader    Loader
	presenter Presenter
	metrics   *metrics.Collector
	logger    zerolog.Logger
	dial      DialFunc
	now       func() time.Time

	// mu serialises Join and Leave.
	mu     sync.Mutex
	gen    uint64
	active atomic.Pointer[session]
}

// New creates a Controller with no active session.
func New(cfg Config, deps Dependencies) *Controller {
	c := &Controller{
		cfg:       cfg,
		auth:      deps.Auth,
		loader:    deps.Loader,
		presenter: deps.Presenter,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		dial:      deps.Dial,
		now:       deps.Now,
	}
	if c.presenter == nil {
		c.presenter = nopPresenter{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.dial == nil {
		c.dial = c.dialTransport
	}
	return c
}

func (c *Controller) dialTransport(ctx context.Context, roomID, token string) (Channel, error) {
	cfg := c.cfg.Transport
	cfg.Token = token
	ch, err := transport.Dial(ctx, roomID, cfg, c.logger, transport.WithRecorder(c.metrics))
	if err != nil {
		return nil, err
	}
	return ch, nil
}

type session struct {
	gen     uint64
	roomID  string
	token   string
	channel Channel
	ledger  *ledger.Ledger
	sender  *sender.Coordinator
	logger  zerolog.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	results chan func()
	fetches errgroup.Group

	// loaded is only touched by the loop goroutine.
	loaded bool

	userMu  sync.RWMutex
	user    string
	userSet bool
}

func (s *session) currentUser() (string, bool) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	return s.user, s.userSet
}

func (s *session) setUser(name string) {
	s.userMu.Lock()
	s.user, s.userSet = name, true
	s.userMu.Unlock()
}

// Join tears down any current session and joins roomID. It returns once the
// new channel has been created; the handshake completes in the background.
func (c *Controller) Join(ctx context.Context, roomID string) error {
	token, ok := "", false
	if c.auth != nil {
		token, ok = c.auth.Token()
	}
	if !ok || roomID == "" {
		if c.auth != nil {
			c.auth.RequireSignIn()
		}
		return ErrNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()
	c.gen++

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := c.dial(sctx, roomID, token)
	if err != nil {
		cancel()
		err = fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		c.metrics.RecordConnectionFailure(roomID)
		c.presenter.Notify(Notice{Kind: NoticeConnectionFailure, RoomID: roomID, Err: err})
		return err
	}

	s := &session{
		gen:     c.gen,
		roomID:  roomID,
		token:   token,
		channel: ch,
		logger:  c.logger.With().Str(log.FieldRoomID, roomID).Logger(),
		cancel:  cancel,
		done:    make(chan struct{}),
		results: make(chan func()),
	}
	s.ledger = ledger.New(
		ledger.WithCapacity(c.cfg.LedgerCapacity),
		ledger.WithObserver(func(change ledger.Change) {
			if c.current(s) {
				c.presenter.ScrollToNewest(change.View, change.Added)
			}
		}),
	)
	persist := sender.PersistFunc(func(ctx context.Context, msg model.ChatMessage) error {
		return c.loader.PersistMessage(ctx, s.token, msg)
	})
	s.sender = sender.New(persist, ch, s.logger,
		sender.WithRecorder(c.metrics),
		sender.WithPersisted(func(model.ChatMessage) {
			if c.current(s) {
				c.presenter.ClearInput()
			}
		}),
	)

	c.active.Store(s)
	s.logger.Info().Uint64(log.FieldGeneration, s.gen).Msg("joining room")
	go c.run(sctx, s)
	return nil
}

// Leave closes the active session, if any. Pending fetches are cancelled and
// their results discarded.
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// Close is Leave for callers holding an io.Closer.
func (c *Controller) Close() error {
	c.Leave()
	return nil
}

func (c *Controller) teardownLocked() {
	s := c.active.Swap(nil)
	if s == nil {
		return
	}
	s.cancel()
	if err := s.channel.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("closing channel")
	}
	<-s.done
	_ = s.fetches.Wait()
	s.logger.Info().Msg("left room")
}

func (c *Controller) current(s *session) bool {
	return c.active.Load() == s
}

// Send dispatches text as the current user over both paths.
func (c *Controller) Send(ctx context.Context, text string) (sender.Outcome, error) {
	s := c.active.Load()
	if s == nil {
		c.presenter.Notify(Notice{Kind: NoticeSendRejected, Err: sender.ErrChannelNotReady})
		return sender.Outcome{}, sender.ErrChannelNotReady
	}

	name, _ := s.currentUser()
	out, err := s.sender.Send(ctx, s.roomID, name, text, c.now())
	if err != nil {
		c.metrics.RecordRejected(s.roomID)
		c.presenter.Notify(Notice{Kind: NoticeSendRejected, RoomID: s.roomID, Err: err})
		return out, err
	}
	if out.PersistErr != nil {
		c.presenter.Notify(Notice{Kind: NoticePersistFailure, RoomID: s.roomID, Err: out.PersistErr})
	}
	return out, nil
}

// View returns the visible messages of the active room.
func (c *Controller) View() []model.ChatMessage {
	if s := c.active.Load(); s != nil {
		return s.ledger.View()
	}
	return nil
}

// CurrentUser returns the resolved identity, if any.
func (c *Controller) CurrentUser() (string, bool) {
	if s := c.active.Load(); s != nil {
		return s.currentUser()
	}
	return "", false
}

// IsMine reports whether msg was authored by the resolved current user.
// Until the user resolves every message counts as received.
func (c *Controller) IsMine(msg model.ChatMessage) bool {
	name, ok := c.CurrentUser()
	return ok && msg.Sender == name
}

// State returns the active channel state; Closed when no session exists.
func (c *Controller) State() transport.State {
	if s := c.active.Load(); s != nil {
		return s.channel.State()
	}
	return transport.StateClosed
}

// RoomID returns the active room, or "".
func (c *Controller) RoomID() string {
	if s := c.active.Load(); s != nil {
		return s.roomID
	}
	return ""
}

func (c *Controller) run(ctx context.Context, s *session) {
	defer close(s.done)

	events := s.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Terminal channel; keep serving fetch results until teardown.
				events = nil
				continue
			}
			c.handleEvent(ctx, s, ev)
		case apply := <-s.results:
			if c.current(s) {
				apply()
			}
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, s *session, ev transport.Event) {
	switch ev.Kind {
	case transport.EventOpen:
		c.metrics.RecordConnection(s.roomID)
		if s.loaded {
			return
		}
		s.loaded = true
		c.startFetches(ctx, s)

	case transport.EventMessage:
		c.metrics.RecordReceived(s.roomID)
		msg := ev.Message
		if msg.ChatRoomID != "" && msg.ChatRoomID != s.roomID {
			s.logger.Warn().Str(log.FieldFrameRoomID, msg.ChatRoomID).Msg("dropping frame for another room")
			return
		}
		s.ledger.Append(msg)

	case transport.EventClosed:
		s.logger.Info().Msg("channel closed")
		c.presenter.Notify(Notice{Kind: NoticeClosed, RoomID: s.roomID})

	case transport.EventError:
		c.metrics.RecordConnectionFailure(s.roomID)
		err := fmt.Errorf("%w: %w", ErrConnectionFailure, ev.Err)
		s.logger.Warn().Err(ev.Err).Msg("channel failed")
		c.presenter.Notify(Notice{Kind: NoticeConnectionFailure, RoomID: s.roomID, Err: err})
	}
}

// startFetches runs the backlog and user fetches in parallel. Each result is
// handed back to the loop; nothing is applied from the fetch goroutines.
func (c *Controller) startFetches(ctx context.Context, s *session) {
	s.fetches.Go(func() error {
		backlog, err := c.loader.LoadBacklog(ctx, s.token, s.roomID)
		c.post(ctx, s, func() { c.applyBacklog(s, backlog, err) })
		return nil
	})
	s.fetches.Go(func() error {
		user, err := c.loader.ResolveCurrentUser(ctx, s.token)
		c.post(ctx, s, func() { c.applyUser(s, user, err) })
		return nil
	})
}

func (c *Controller) post(ctx context.Context, s *session, apply func()) {
	select {
	case s.results <- apply:
	case <-ctx.Done():
	}
}

func (c *Controller) applyBacklog(s *session, backlog []model.ChatMessage, err error) {
	if err != nil {
		backlog = nil
		c.metrics.RecordFetchFailure(s.roomID, "backlog")
		s.logger.Error().Err(err).Msg("failed to load backlog")
		c.presenter.Notify(Notice{
			Kind:   NoticeFetchFailure,
			RoomID: s.roomID,
			Err:    fmt.Errorf("%w: %w", ErrFetchFailure, err),
		})
	}
	// Seeding with nothing still releases live frames buffered so far.
	if err := s.ledger.Seed(backlog); err != nil {
		s.logger.Warn().Err(err).Msg("seed ignored")
		return
	}
	s.logger.Debug().Int("messages", len(backlog)).Msg("backlog seeded")
}

func (c *Controller) applyUser(s *session, user model.User, err error) {
	if err != nil {
		c.metrics.RecordFetchFailure(s.roomID, "user")
		s.logger.Error().Err(err).Msg("failed to resolve current user")
		c.presenter.Notify(Notice{
			Kind:   NoticeFetchFailure,
			RoomID: s.roomID,
			Err:    fmt.Errorf("%w: %w", ErrFetchFailure, err),
		})
		return
	}
	s.setUser(user.Name)
	s.logger.Debug().Str(log.FieldSender, user.Name).Msg("current user resolved")
}
