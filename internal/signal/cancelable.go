// Package signal provides the single-threaded observable primitives used by the
// style reconciler: cancellation tokens, subjects and the signals derived from them.
package signal

import (
	"sync"
	"sync/atomic"
)

// Cancelable is a handle to a subscription or a pending unit of work.
type Cancelable interface {
	Cancel()
}

// AnyCancelable runs its release action at most once. The action is dropped
// after it runs so that anything it captured can be collected.
type AnyCancelable struct {
	release atomic.Pointer[func()]
}

// NewCancelable returns a token that runs fn on the first Cancel.
func NewCancelable(fn func()) *AnyCancelable {
	c := &AnyCancelable{}
	if fn != nil {
		c.release.Store(&fn)
	}
	return c
}

// Wrap adapts any Cancelable into an idempotent token.
func Wrap(c Cancelable) *AnyCancelable {
	if c == nil {
		return Empty()
	}
	if ac, ok := c.(*AnyCancelable); ok {
		return ac
	}
	return NewCancelable(c.Cancel)
}

// Join returns a token that cancels every given token, in order.
func Join(cs ...Cancelable) *AnyCancelable {
	return NewCancelable(func() {
		for _, c := range cs {
			if c != nil {
				c.Cancel()
			}
		}
	})
}

// Empty returns an inert token.
func Empty() *AnyCancelable {
	return &AnyCancelable{}
}

// Cancel runs the release action if it has not run yet. Safe on a nil token.
func (c *AnyCancelable) Cancel() {
	if c == nil {
		return
	}
	if fn := c.release.Swap(nil); fn != nil {
		(*fn)()
	}
}

// Active reports whether the release action is still pending.
func (c *AnyCancelable) Active() bool {
	return c != nil && c.release.Load() != nil
}

// Store adds the token to a bag and returns it.
func (c *AnyCancelable) Store(b *Bag) *AnyCancelable {
	b.Add(c)
	return c
}

// Bag collects tokens owned by one component so they can be released together
// when the owner is torn down.
type Bag struct {
	mu    sync.Mutex
	items []Cancelable
}

// Add appends tokens to the bag.
func (b *Bag) Add(cs ...Cancelable) {
	b.mu.Lock()
	b.items = append(b.items, cs...)
	b.mu.Unlock()
}

// Len returns the number of tokens held.
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// CancelAll cancels every token in insertion order and empties the bag.
func (b *Bag) CancelAll() {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()

	for _, c := range items {
		c.Cancel()
	}
}
