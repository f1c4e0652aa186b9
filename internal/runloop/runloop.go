// Package runloop provides the single designated goroutine that owns the
// engine and the style state, plus a serial background queue for work that
// must not block it.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ErrStopped is returned by Sync when the loop is no longer running.
var ErrStopped = errors.New("runloop: stopped")

// Dispatcher schedules work asynchronously.
type Dispatcher interface {
	Async(fn func())
}

// Affinity asserts that a call happens on the owning goroutine.
type Affinity interface {
	Check(op string)
}

type goroutineAffinity int64

// Current captures the calling goroutine as the owner.
func Current() Affinity {
	return goroutineAffinity(goid.Get())
}

func (a goroutineAffinity) Check(op string) {
	if id := goid.Get(); id != int64(a) {
		panic(fmt.Sprintf("%s called on goroutine %d, owner is %d", op, id, int64(a)))
	}
}

type noAffinity struct{}

func (noAffinity) Check(string) {}

// Unchecked disables the owner assertion.
var Unchecked Affinity = noAffinity{}

// fifo is an unbounded queue of closures.
type fifo struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
	closed bool
}

func newFIFO() *fifo {
	return &fifo{notify: make(chan struct{}, 1)}
}

func (q *fifo) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

func (q *fifo) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *fifo) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Loop runs closures one at a time, in submission order, on the goroutine
// that called Run.
type Loop struct {
	q       *fifo
	owner   atomic.Int64
	stopped chan struct{}
	stop    sync.Once
}

// New creates a loop. Nothing runs until Run is called.
func New() *Loop {
	return &Loop{q: newFIFO(), stopped: make(chan struct{})}
}

// Run processes closures until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	if !l.owner.CompareAndSwap(0, goid.Get()) {
		return errors.New("runloop: already running")
	}
	defer l.Stop()

	for {
		for _, fn := range l.q.take() {
			fn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopped:
			return nil
		case <-l.q.notify:
		}
	}
}

// Stop ends Run. Queued closures that have not started are dropped.
func (l *Loop) Stop() {
	l.stop.Do(func() {
		l.q.close()
		close(l.stopped)
	})
}

// Async queues fn. It is dropped if the loop has stopped.
func (l *Loop) Async(fn func()) {
	l.q.push(fn)
}

// Sync runs fn on the loop and waits for it. Called from the loop itself it
// runs fn inline.
func (l *Loop) Sync(ctx context.Context, fn func()) error {
	if l.IsCurrent() {
		fn()
		return nil
	}

	done := make(chan struct{})
	if !l.q.push(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
}

// IsCurrent reports whether the caller is the loop goroutine.
func (l *Loop) IsCurrent() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == goid.Get()
}

// Check implements Affinity for the loop goroutine. Before Run starts there is
// no owner and the check passes.
func (l *Loop) Check(op string) {
	owner := l.owner.Load()
	if owner == 0 {
		return
	}
	goroutineAffinity(owner).Check(op)
}

// SerialQueue runs closures one at a time on a background goroutine.
type SerialQueue struct {
	q    *fifo
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSerialQueue starts the background goroutine.
func NewSerialQueue() *SerialQueue {
	s := &SerialQueue{q: newFIFO(), done: make(chan struct{})}
	s.wg.Go(s.run)
	return s
}

func (s *SerialQueue) run() {
	for {
		for _, fn := range s.q.take() {
			fn()
		}
		select {
		case <-s.done:
			for _, fn := range s.q.take() {
				fn()
			}
			return
		case <-s.q.notify:
		}
	}
}

// Async queues fn.
func (s *SerialQueue) Async(fn func()) {
	s.q.push(fn)
}

// Close stops accepting work, finishes what is queued and waits.
func (s *SerialQueue) Close() {
	s.q.close()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()
}

// ManualQueue collects closures until the test drains it.
type ManualQueue struct {
	items []func()
}

func (m *ManualQueue) Async(fn func()) {
	m.items = append(m.items, fn)
}

// Len returns the number of queued closures.
func (m *ManualQueue) Len() int { return len(m.items) }

// Step runs the oldest closure and reports whether there was one.
func (m *ManualQueue) Step() bool {
	if len(m.items) == 0 {
		return false
	}
	fn := m.items[0]
	m.items = m.items[1:]
	fn()
	return true
}

// Drain runs closures, including ones queued while draining, until empty.
func (m *ManualQueue) Drain() {
	for m.Step() {
	}
}
