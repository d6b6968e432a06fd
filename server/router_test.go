package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"chatsession/client/history"
	"chatsession/client/model"
	"chatsession/client/session"
	"chatsession/client/transport"
	"chatsession/pkg/log"
	"chatsession/server/auth"
	"chatsession/server/room"
	"chatsession/server/store"
)

type backend struct {
	url      string
	verifier *auth.Verifier
	manager  *room.Manager
}

func newBackend(t *testing.T) backend {
	t.Helper()
	manager := room.NewManager()
	verifier := auth.NewVerifier("test-secret", "chat-test")
	srv := httptest.NewServer(newRouter(manager, store.NewMemoryStore(0), verifier, room.Config{}, log.Nop()))
	t.Cleanup(func() {
		manager.Shutdown()
		srv.Close()
	})
	return backend{url: srv.URL, verifier: verifier, manager: manager}
}

type notices struct {
	mu   sync.Mutex
	seen []session.Notice
}

func (n *notices) ScrollToNewest(_, _ []model.ChatMessage) {}
func (n *notices) ClearInput()                             {}
func (n *notices) Notify(notice session.Notice) {
	n.mu.Lock()
	n.seen = append(n.seen, notice)
	n.mu.Unlock()
}

func (n *notices) has(kind session.NoticeKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.seen {
		if notice.Kind == kind {
			return true
		}
	}
	return false
}

func (b backend) controller(t *testing.T, token string, p session.Presenter) *session.Controller {
	t.Helper()
	ctrl := session.New(session.Config{Transport: transport.Config{BaseURL: b.url}}, session.Dependencies{
		Auth:      session.StaticAuth{Value: token},
		Loader:    history.NewClient(b.url, 2*time.Second, log.Nop()),
		Presenter: p,
		Logger:    log.Nop(),
	})
	t.Cleanup(ctrl.Leave)
	return ctrl
}

func (b backend) token(t *testing.T, name string) string {
	t.Helper()
	token, err := b.verifier.Issue(name, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatRoundTrip(t *testing.T) {
	b := newBackend(t)
	alice := b.controller(t, b.token(t, "alice"), nil)
	bob := b.controller(t, b.token(t, "bob"), nil)

	for _, c := range []*session.Controller{alice, bob} {
		if err := c.Join(context.Background(), "R1"); err != nil {
			t.Fatalf("join: %v", err)
		}
		waitFor(t, "open", func() bool { return c.State() == transport.StateOpen })
		waitFor(t, "user", func() bool { _, ok := c.CurrentUser(); return ok })
	}
	waitFor(t, "room members", func() bool { return b.manager.GetRoom("R1").Len() == 2 })

	out, err := alice.Send(context.Background(), "hi bob")
	if err != nil || out.PersistErr != nil || out.BroadcastErr != nil {
		t.Fatalf("send: out=%+v err=%v", out, err)
	}

	waitFor(t, "alice loopback", func() bool { return len(alice.View()) == 1 })
	waitFor(t, "bob delivery", func() bool { return len(bob.View()) == 1 })
	if !alice.IsMine(alice.View()[0]) || bob.IsMine(bob.View()[0]) {
		t.Fatal("ownership should follow the resolved user")
	}

	// A later joiner sees the persisted backlog.
	carol := b.controller(t, b.token(t, "carol"), nil)
	if err := carol.Join(context.Background(), "R1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, "carol backlog", func() bool {
		v := carol.View()
		return len(v) == 1 && v[0].Message == "hi bob" && v[0].Sender == "alice"
	})
}

func TestHandshakeRejectedWithoutValidToken(t *testing.T) {
	b := newBackend(t)
	n := &notices{}
	ctrl := b.controller(t, "not-a-token", n)

	if err := ctrl.Join(context.Background(), "R1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, "connection failure", func() bool { return n.has(session.NoticeConnectionFailure) })
	if ctrl.State() != transport.StateErrored {
		t.Fatalf("state = %v, want errored", ctrl.State())
	}
}

func TestHealth(t *testing.T) {
	b := newBackend(t)
	resp, err := http.Get(b.url + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
