package signal

// Just returns a Signal that delivers v once to every observer.
func Just[T any](v T) Signal[T] {
	return New(func(h Handler[T]) Cancelable {
		h(v)
		return Empty()
	})
}

// Map transforms every value of s.
func Map[T, U any](s Signal[T], fn func(T) U) Signal[U] {
	return New(func(h Handler[U]) Cancelable {
		return s.Observe(func(v T) { h(fn(v)) })
	})
}

// Filter forwards only the values for which keep returns true.
func Filter[T any](s Signal[T], keep func(T) bool) Signal[T] {
	return New(func(h Handler[T]) Cancelable {
		return s.Observe(func(v T) {
			if keep(v) {
				h(v)
			}
		})
	})
}

// CompactMap forwards fn's result when ok is true.
func CompactMap[T, U any](s Signal[T], fn func(T) (U, bool)) Signal[U] {
	return New(func(h Handler[U]) Cancelable {
		return s.Observe(func(v T) {
			if u, ok := fn(v); ok {
				h(u)
			}
		})
	})
}

// SkipRepeats drops values equal to the previously delivered one.
func SkipRepeats[T comparable](s Signal[T]) Signal[T] {
	return SkipRepeatsFunc(s, func(a, b T) bool { return a == b })
}

// SkipRepeatsFunc is SkipRepeats with a custom equality. State is kept per observer.
func SkipRepeatsFunc[T any](s Signal[T], equal func(a, b T) bool) Signal[T] {
	return New(func(h Handler[T]) Cancelable {
		var last T
		seen := false
		return s.Observe(func(v T) {
			if seen && equal(last, v) {
				return
			}
			seen, last = true, v
			h(v)
		})
	})
}

// TakeFirst delivers only the first value and then detaches from s.
func TakeFirst[T any](s Signal[T]) Signal[T] {
	return New(func(h Handler[T]) Cancelable {
		var inner *AnyCancelable
		done := false
		inner = s.Observe(func(v T) {
			if done {
				return
			}
			done = true
			inner.Cancel()
			h(v)
		})
		// s may have delivered synchronously before inner was assigned.
		if done {
			inner.Cancel()
		}
		return inner
	})
}

// ObserveNext observes only the next value of s.
func ObserveNext[T any](s Signal[T], h Handler[T]) *AnyCancelable {
	return TakeFirst(s).Observe(h)
}

// ObserveWithCancellingHandler lets the handler end its own subscription by
// returning false.
func ObserveWithCancellingHandler[T any](s Signal[T], h func(T) bool) *AnyCancelable {
	var token *AnyCancelable
	stopped := false
	token = s.Observe(func(v T) {
		if stopped {
			return
		}
		if !h(v) {
			stopped = true
			token.Cancel()
		}
	})
	if stopped {
		token.Cancel()
	}
	return token
}

// Pair holds the latest values of two signals.
type Pair[A, B any] struct {
	First  A
	Second B
}

// CombineLatest emits once both signals have delivered a value, and again on
// every later value from either.
func CombineLatest[A, B any](a Signal[A], b Signal[B]) Signal[Pair[A, B]] {
	return New(func(h Handler[Pair[A, B]]) Cancelable {
		var p Pair[A, B]
		hasA, hasB := false, false
		ta := a.Observe(func(v A) {
			p.First, hasA = v, true
			if hasB {
				h(p)
			}
		})
		tb := b.Observe(func(v B) {
			p.Second, hasB = v, true
			if hasA {
				h(p)
			}
		})
		return Join(ta, tb)
	})
}

// Latest holds the most recent value delivered by a signal.
type Latest[T any] struct {
	token *AnyCancelable
	value T
	ok    bool
}

// LatestValue subscribes to s and keeps its last value until cancelled.
func LatestValue[T any](s Signal[T]) *Latest[T] {
	l := &Latest[T]{}
	l.token = s.Observe(func(v T) { l.value, l.ok = v, true })
	return l
}

// Get returns the last value, and false if none arrived yet.
func (l *Latest[T]) Get() (T, bool) {
	return l.value, l.ok
}

func (l *Latest[T]) Cancel() {
	l.token.Cancel()
}
