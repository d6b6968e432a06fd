package main

import (
	"fmt"
	"io"
	"sync"

	"chatsession/client/model"
	"chatsession/client/session"
)

// terminalPresenter renders ledger changes as lines of text. Messages
// authored by the current user are marked with "me".
type terminalPresenter struct {
	mu     sync.Mutex
	out    io.Writer
	isMine func(model.ChatMessage) bool
}

func newTerminalPresenter(out io.Writer) *terminalPresenter {
	return &terminalPresenter{out: out, isMine: func(model.ChatMessage) bool { return false }}
}

func (p *terminalPresenter) ScrollToNewest(_, added []model.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range added {
		fmt.Fprintln(p.out, p.format(msg))
	}
}

func (p *terminalPresenter) format(msg model.ChatMessage) string {
	who := msg.Sender
	if p.isMine(msg) {
		who = "me"
	}
	ts := ""
	if !msg.SendAt.IsZero() {
		ts = msg.SendAt.Local().Format("15:04") + " "
	}
	return fmt.Sprintf("%s[%s] %s", ts, who, msg.Message)
}

func (p *terminalPresenter) ClearInput() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, "> ")
}

func (p *terminalPresenter) Notify(n session.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch n.Kind {
	case session.NoticeClosed:
		fmt.Fprintln(p.out, "* connection closed")
	case session.NoticeSendRejected:
		fmt.Fprintf(p.out, "* message not sent: %v\n", n.Err)
	default:
		fmt.Fprintf(p.out, "* %s: %v\n", n.Kind, n.Err)
	}
}
