package signal

import (
	"slices"
	"weak"
)

// Handler receives values from a Signal.
type Handler[T any] func(T)

// Signal is the read-only subscription surface of a value stream.
// The zero Signal never emits and returns inert tokens.
type Signal[T any] struct {
	observe func(Handler[T]) Cancelable
}

// New builds a Signal from an observe function.
func New[T any](observe func(Handler[T]) Cancelable) Signal[T] {
	return Signal[T]{observe: observe}
}

// Observe registers h and returns a token that removes exactly this registration.
func (s Signal[T]) Observe(h Handler[T]) *AnyCancelable {
	if s.observe == nil || h == nil {
		return Empty()
	}
	return Wrap(s.observe(h))
}

type observer[T any] struct {
	id      uint64
	handler Handler[T]
}

// Subject broadcasts values to its observers in subscription order.
// It is not safe for concurrent use; all calls must come from the same goroutine.
type Subject[T any] struct {
	observers  []observer[T]
	nextID     uint64
	onObserved func(bool)
}

// NewSubject creates a Subject. onObserved, when non-nil, is called with true
// when the first observer attaches and with false when the last one leaves.
func NewSubject[T any](onObserved func(bool)) *Subject[T] {
	return &Subject[T]{onObserved: onObserved}
}

// Send delivers v to a snapshot of the current observers.
func (s *Subject[T]) Send(v T) {
	snapshot := slices.Clone(s.observers)
	for _, o := range snapshot {
		o.handler(v)
	}
}

// HasObservers reports whether at least one observer is registered.
func (s *Subject[T]) HasObservers() bool {
	return len(s.observers) > 0
}

// Signal returns the subscription surface. It holds only a weak reference to
// the subject; subscribing after the subject is gone yields an inert token.
func (s *Subject[T]) Signal() Signal[T] {
	wp := weak.Make(s)
	return New(func(h Handler[T]) Cancelable {
		sub := wp.Value()
		if sub == nil {
			return Empty()
		}
		return sub.add(h, wp)
	})
}

func (s *Subject[T]) add(h Handler[T], wp weak.Pointer[Subject[T]]) *AnyCancelable {
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer[T]{id: id, handler: h})
	if len(s.observers) == 1 && s.onObserved != nil {
		s.onObserved(true)
	}

	return NewCancelable(func() {
		if sub := wp.Value(); sub != nil {
			sub.remove(id)
		}
	})
}

func (s *Subject[T]) remove(id uint64) {
	i := slices.IndexFunc(s.observers, func(o observer[T]) bool { return o.id == id })
	if i < 0 {
		return
	}
	s.observers = slices.Delete(s.observers, i, i+1)
	if len(s.observers) == 0 && s.onObserved != nil {
		s.onObserved(false)
	}
}

// CurrentValueSubject caches the latest value and replays it to every new
// observer synchronously on subscribe.
type CurrentValueSubject[T any] struct {
	subject *Subject[T]
	value   T
}

// NewCurrentValueSubject creates a subject seeded with initial.
func NewCurrentValueSubject[T any](initial T) *CurrentValueSubject[T] {
	return &CurrentValueSubject[T]{subject: NewSubject[T](nil), value: initial}
}

// Value returns the cached value.
func (c *CurrentValueSubject[T]) Value() T {
	return c.value
}

// Set stores v and sends it to the observers.
func (c *CurrentValueSubject[T]) Set(v T) {
	c.value = v
	c.subject.Send(v)
}

// Signal returns the subscription surface; see Subject.Signal.
func (c *CurrentValueSubject[T]) Signal() Signal[T] {
	wp := weak.Make(c)
	return New(func(h Handler[T]) Cancelable {
		cvs := wp.Value()
		if cvs == nil {
			return Empty()
		}
		h(cvs.value)
		return cvs.subject.add(h, weak.Make(cvs.subject))
	})
}
