// Package session holds the process-wide view of "who is signed in".
//
// A Holder observes the identity service: it subscribes to the service's
// change notifications on creation and overwrites its state with every
// reported value. Nothing else writes to it. Reads are lock-free and never
// block, so request handlers and other consumers may poll it freely.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/notifier"
)

// Status distinguishes "not checked yet" from "checked and signed out".
type Status int

const (
	StatusUnknown Status = iota
	StatusSignedOut
	StatusSignedIn
)

func (s Status) String() string {
	switch s {
	case StatusSignedOut:
		return "signed_out"
	case StatusSignedIn:
		return "signed_in"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the session at one point in time.
type Snapshot struct {
	Status   Status
	Identity *identity.Identity

	// Version counts the notifications applied so far.
	Version uint64
}

// Present reports whether somebody is signed in. Unknown counts as absent.
func (s Snapshot) Present() bool {
	return s.Status == StatusSignedIn && s.Identity != nil
}

type changeSource interface {
	OnChange(callback func(*identity.Identity)) (cancel func())
}

// Holder is the single-writer session cell.
type Holder struct {
	current atomic.Pointer[Snapshot]

	// mu serializes writers and guards closed; readers never take it.
	mu     sync.Mutex
	closed bool

	resolved    chan struct{}
	resolveOnce sync.Once

	listeners   *notifier.Notifier[Snapshot]
	unsubscribe func()
	closeOnce   sync.Once
}

// New creates a Holder in the Unknown state and subscribes it to source.
// The subscription lives until Close.
func New(source changeSource) *Holder {
	h := &Holder{
		resolved:  make(chan struct{}),
		listeners: notifier.New[Snapshot](),
	}
	h.current.Store(&Snapshot{Status: StatusUnknown})
	h.unsubscribe = source.OnChange(h.apply)

	return h
}

// Current returns the latest snapshot.
func (h *Holder) Current() Snapshot {
	return *h.current.Load()
}

// Identity returns the signed-in identity, if any.
func (h *Holder) Identity() (*identity.Identity, bool) {
	snapshot := h.current.Load()

	return snapshot.Identity, snapshot.Present()
}

// Subscribe registers fn to be called with every new snapshot, in the order
// the notifications were applied. fn must not call Close.
func (h *Holder) Subscribe(fn func(Snapshot)) (cancel func()) {
	return h.listeners.Subscribe(fn)
}

// WaitResolved blocks until the identity service reported its first state or
// ctx is done.
func (h *Holder) WaitResolved(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.resolved:
		return h.Current(), nil
	case <-ctx.Done():
		return h.Current(), ctx.Err()
	}
}

// Close cancels the upstream subscription. Notifications arriving after
// Close returns are ignored. Close is safe to call more than once.
func (h *Holder) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()

		if h.unsubscribe != nil {
			h.unsubscribe()
		}
	})
}

func (h *Holder) apply(id *identity.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	next := &Snapshot{
		Status:   StatusSignedOut,
		Identity: id,
		Version:  h.current.Load().Version + 1,
	}
	if id != nil {
		next.Status = StatusSignedIn
	}
	h.current.Store(next)

	h.resolveOnce.Do(func() {
		close(h.resolved)
	})

	h.listeners.Notify(*next)
}
