// Package notifier implements an ordered, cancellable callback fan-out used
// to propagate state changes to observers.
package notifier

import "sync"

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Notifier delivers values to subscribed callbacks in subscription order.
// Callbacks run synchronously on the goroutine calling Notify, outside any
// internal lock, so a callback may subscribe or cancel without deadlocking.
type Notifier[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners []listener[T]
}

func New[T any]() *Notifier[T] {
	return &Notifier[T]{}
}

// Subscribe registers fn and returns a function removing it. The returned
// function is idempotent.
func (n *Notifier[T]) Subscribe(fn func(T)) (cancel func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listener[T]{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			n.remove(id)
		})
	}
}

// Notify calls every callback registered at the moment of the call.
func (n *Notifier[T]) Notify(value T) {
	n.mu.RLock()
	snapshot := make([]listener[T], len(n.listeners))
	copy(snapshot, n.listeners)
	n.mu.RUnlock()

	for _, l := range snapshot {
		if !n.active(l.id) {
			continue
		}
		l.fn(value)
	}
}

func (n *Notifier[T]) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// active covers the case of a callback cancelled by an earlier callback of
// the same Notify round.
func (n *Notifier[T]) active(id uint64) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, l := range n.listeners {
		if l.id == id {
			return true
		}
	}

	return false
}
