// Package ledger keeps the ordered message log of the active room.
//
// The visible sequence is the backlog, in loader order, followed by live
// arrivals in receipt order. Live messages that arrive before the backlog has
// been seeded are held back and replayed right after the seed, so a slow
// backlog fetch never loses or reorders them.
package ledger

import (
	"errors"
	"sync"

	"chatsession/client/model"
)

// ErrAlreadySeeded is returned by Seed after the first call.
var ErrAlreadySeeded = errors.New("ledger already seeded")

// Change describes one mutation of the visible sequence.
type Change struct {
	View  []model.ChatMessage
	Added []model.ChatMessage
}

// Observer is invoked after every visible mutation. The presentation layer
// hooks its scroll-to-newest behaviour here.
type Observer func(Change)

// Option configures a Ledger.
type Option func(*Ledger)

// WithObserver registers the mutation callback.
func WithObserver(fn Observer) Option {
	return func(l *Ledger) { l.observer = fn }
}

// WithCapacity bounds the visible sequence; the oldest messages are evicted
// first. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// Ledger is safe for concurrent readers. Writes are expected from a single
// goroutine (the session loop); the lock only protects readers.
type Ledger struct {
	mu       sync.RWMutex
	seeded   bool
	messages []model.ChatMessage
	pending  []model.ChatMessage
	seen     map[string]struct{}
	capacity int
	observer Observer
}

// New returns an empty, unseeded Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{seen: make(map[string]struct{})}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Seed installs the backlog and replays any live arrivals buffered before it.
// It may only be called once.
func (l *Ledger) Seed(initial []model.ChatMessage) error {
	l.mu.Lock()
	if l.seeded {
		l.mu.Unlock()
		return ErrAlreadySeeded
	}
	l.seeded = true

	added := make([]model.ChatMessage, 0, len(initial)+len(l.pending))
	for _, msg := range initial {
		if l.admit(msg) {
			added = append(added, msg)
		}
	}
	for _, msg := range l.pending {
		if l.admit(msg) {
			added = append(added, msg)
		}
	}
	l.pending = nil
	l.messages = append(l.messages, added...)
	l.evict()
	change := l.change(added)
	l.mu.Unlock()

	// The seed always counts as a mutation, even an empty one.
	if l.observer != nil {
		l.observer(change)
	}
	return nil
}

// Append adds a live arrival. Before the seed it is buffered; afterwards it
// goes to the end of the visible sequence. Duplicates of an already known
// message id are ignored. It reports whether the message became visible.
func (l *Ledger) Append(msg model.ChatMessage) bool {
	l.mu.Lock()
	if !l.seeded {
		l.pending = append(l.pending, msg)
		l.mu.Unlock()
		return false
	}
	if !l.admit(msg) {
		l.mu.Unlock()
		return false
	}
	l.messages = append(l.messages, msg)
	l.evict()
	change := l.change([]model.ChatMessage{msg})
	l.mu.Unlock()

	l.notify(change)
	return true
}

// View returns a copy of the visible sequence.
func (l *Ledger) View() []model.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.ChatMessage(nil), l.messages...)
}

// Len returns the number of visible messages.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Pending returns the number of live arrivals waiting for the seed.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Seeded reports whether Seed has been called.
func (l *Ledger) Seeded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seeded
}

// admit records msg's id and reports whether it is new. Messages without an
// id are always admitted. Callers hold mu.
func (l *Ledger) admit(msg model.ChatMessage) bool {
	if msg.ID == "" {
		return true
	}
	if _, dup := l.seen[msg.ID]; dup {
		return false
	}
	l.seen[msg.ID] = struct{}{}
	return true
}

func (l *Ledger) evict() {
	if l.capacity == 0 || len(l.messages) <= l.capacity {
		return
	}
	drop := len(l.messages) - l.capacity
	for _, msg := range l.messages[:drop] {
		if msg.ID != "" {
			delete(l.seen, msg.ID)
		}
	}
	l.messages = append([]model.ChatMessage(nil), l.messages[drop:]...)
}

func (l *Ledger) change(added []model.ChatMessage) Change {
	if l.observer == nil {
		return Change{}
	}
	return Change{
		View:  append([]model.ChatMessage(nil), l.messages...),
		Added: added,
	}
}

func (l *Ledger) notify(change Change) {
	if l.observer == nil || len(change.Added) == 0 {
		return
	}
	l.observer(change)
}
