package session

import (
	"context"
	"fmt"

	"chatsession/client/model"
	"chatsession/client/transport"
)

// Auth supplies the bearer credential and owns the sign-in redirect.
type Auth interface {
	Token() (string, bool)
	RequireSignIn()
}

// StaticAuth is an Auth backed by a fixed token.
type StaticAuth struct {
	Value    string
	OnSignIn func()
}

func (a StaticAuth) Token() (string, bool) { return a.Value, a.Value != "" }

func (a StaticAuth) RequireSignIn() {
	if a.OnSignIn != nil {
		a.OnSignIn()
	}
}

// Loader is the request/response side of the backend. Implementations must
// return promptly once ctx is cancelled.
type Loader interface {
	LoadBacklog(ctx context.Context, token, roomID string) ([]model.ChatMessage, error)
	ResolveCurrentUser(ctx context.Context, token string) (model.User, error)
	PersistMessage(ctx context.Context, token string, msg model.ChatMessage) error
}

// Channel is the live connection as seen by the controller.
type Channel interface {
	State() transport.State
	Events() <-chan transport.Event
	Send(msg model.ChatMessage) error
	Close() error
}

// DialFunc opens the live channel for a room.
type DialFunc func(ctx context.Context, roomID, token string) (Channel, error)

// NoticeKind classifies user-visible notices.
type NoticeKind int

const (
	NoticeConnectionFailure NoticeKind = iota + 1
	NoticeFetchFailure
	NoticeSendRejected
	NoticePersistFailure
	NoticeClosed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeConnectionFailure:
		return "connection_failure"
	case NoticeFetchFailure:
		return "fetch_failure"
	case NoticeSendRejected:
		return "send_rejected"
	case NoticePersistFailure:
		return "persist_failure"
	case NoticeClosed:
		return "closed"
	default:
		return fmt.Sprintf("notice(%d)", int(k))
	}
}

// Notice is a non-fatal condition surfaced to the user.
type Notice struct {
	Kind   NoticeKind
	RoomID string
	Err    error
}

// Presenter is the rendering side. ScrollToNewest and the channel and fetch
// notices run on the session loop goroutine and must not call Join or Leave.
type Presenter interface {
	ScrollToNewest(view, added []model.ChatMessage)
	ClearInput()
	Notify(Notice)
}

type nopPresenter struct{}

func (nopPresenter) ScrollToNewest(_, _ []model.ChatMessage) {}
func (nopPresenter) ClearInput()                             {}
func (nopPresenter) Notify(Notice)                           {}
