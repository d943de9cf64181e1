// Package identityservice contains what the identity service adapters share:
// the sentinel errors they report and the Tracker that turns their
// sign-in/sign-out results into change notifications.
package identityservice

import (
	"errors"
	"sync"

	"github.com/patric-chuzhbe/sessionauth/internal/identity"
	"github.com/patric-chuzhbe/sessionauth/internal/notifier"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakSecret         = errors.New("secret does not satisfy the password policy")
	ErrAccountNotFound    = errors.New("account not found")
	ErrRejected           = errors.New("request rejected by identity service")
	ErrUnavailable        = errors.New("identity service unavailable")
	ErrAdminNotConfigured = errors.New("identity service admin API not configured")
)

// Tracker keeps the identity an adapter currently has signed in and fans
// changes out to OnChange subscribers.
type Tracker struct {
	mu      sync.Mutex
	current *identity.Identity
	changes *notifier.Notifier[*identity.Identity]
}

func NewTracker() *Tracker {
	return &Tracker{
		changes: notifier.New[*identity.Identity](),
	}
}

// OnChange delivers the current identity (nil when signed out) right away
// and then every subsequent change until cancel is called.
func (t *Tracker) OnChange(callback func(*identity.Identity)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cancel = t.changes.Subscribe(callback)
	callback(t.current)

	return cancel
}

// Set records id as the signed-in identity and notifies subscribers.
func (t *Tracker) Set(id *identity.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = id
	t.changes.Notify(id)
}

// Current returns the signed-in identity or nil.
func (t *Tracker) Current() *identity.Identity {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current
}
