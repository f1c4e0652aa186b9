package signal

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancelable(t *testing.T) {
	t.Run("release runs once", func(t *testing.T) {
		calls := 0
		c := NewCancelable(func() { calls++ })
		assert.True(t, c.Active())

		for range 5 {
			c.Cancel()
		}
		assert.Equal(t, 1, calls)
		assert.False(t, c.Active())
	})

	t.Run("nil and empty tokens are inert", func(t *testing.T) {
		var c *AnyCancelable
		assert.NotPanics(t, c.Cancel)
		assert.NotPanics(t, Empty().Cancel)
		assert.False(t, Empty().Active())
	})

	t.Run("wrap adapts once", func(t *testing.T) {
		inner := NewCancelable(nil)
		assert.Same(t, inner, Wrap(inner))

		calls := 0
		w := Wrap(cancelFunc(func() { calls++ }))
		w.Cancel()
		w.Cancel()
		assert.Equal(t, 1, calls)
	})

	t.Run("join cancels in order", func(t *testing.T) {
		log := []string{}
		j := Join(
			NewCancelable(func() { log = append(log, "a") }),
			nil,
			NewCancelable(func() { log = append(log, "b") }),
		)
		j.Cancel()
		j.Cancel()
		assert.Equal(t, []string{"a", "b"}, log)
	})

	t.Run("bag", func(t *testing.T) {
		log := []string{}
		var bag Bag
		NewCancelable(func() { log = append(log, "1") }).Store(&bag)
		bag.Add(NewCancelable(func() { log = append(log, "2") }))
		assert.Equal(t, 2, bag.Len())

		bag.CancelAll()
		bag.CancelAll()
		assert.Equal(t, []string{"1", "2"}, log)
		assert.Equal(t, 0, bag.Len())
	})
}

type cancelFunc func()

func (f cancelFunc) Cancel() { f() }

func TestSubject(t *testing.T) {
	t.Run("subscription order", func(t *testing.T) {
		s := NewSubject[int](nil)
		log := []string{}
		s.Signal().Observe(func(v int) { log = append(log, "a") })
		s.Signal().Observe(func(v int) { log = append(log, "b") })
		s.Send(1)
		assert.Equal(t, []string{"a", "b"}, log)
	})

	t.Run("cancel removes exactly one registration", func(t *testing.T) {
		s := NewSubject[int](nil)
		var got []int
		h := func(v int) { got = append(got, v) }
		t1 := s.Signal().Observe(h)
		s.Signal().Observe(h)

		s.Send(1)
		t1.Cancel()
		t1.Cancel()
		s.Send(2)
		assert.Equal(t, []int{1, 1, 2}, got)
	})

	t.Run("dispatch uses a snapshot", func(t *testing.T) {
		s := NewSubject[int](nil)
		log := []string{}
		var late *AnyCancelable
		var second *AnyCancelable
		s.Signal().Observe(func(v int) {
			log = append(log, "first")
			second.Cancel()
			if late == nil {
				late = s.Signal().Observe(func(int) { log = append(log, "late") })
			}
		})
		second = s.Signal().Observe(func(int) { log = append(log, "second") })

		s.Send(1)
		assert.Equal(t, []string{"first", "second"}, log)

		log = log[:0]
		s.Send(2)
		assert.Equal(t, []string{"first", "late"}, log)
	})

	t.Run("first and last observer transitions", func(t *testing.T) {
		var transitions []bool
		s := NewSubject[int](func(observed bool) { transitions = append(transitions, observed) })

		t1 := s.Signal().Observe(func(int) {})
		t2 := s.Signal().Observe(func(int) {})
		assert.Equal(t, []bool{true}, transitions)
		assert.True(t, s.HasObservers())

		t1.Cancel()
		assert.Equal(t, []bool{true}, transitions)
		t2.Cancel()
		assert.Equal(t, []bool{true, false}, transitions)
		assert.False(t, s.HasObservers())

		s.Signal().Observe(func(int) {})
		assert.Equal(t, []bool{true, false, true}, transitions)
	})

	t.Run("zero signal is inert", func(t *testing.T) {
		var s Signal[int]
		tok := s.Observe(func(int) { t.Fatal("unexpected value") })
		assert.False(t, tok.Active())
	})

	t.Run("observing a released subject yields an empty token", func(t *testing.T) {
		sig := func() Signal[int] { return NewSubject[int](nil).Signal() }()

		released := false
		for range 10 {
			runtime.GC()
			if tok := sig.Observe(func(int) {}); !tok.Active() {
				released = true
				break
			}
		}
		assert.True(t, released)
	})
}

func TestCurrentValueSubject(t *testing.T) {
	t.Run("replay", func(t *testing.T) {
		s := NewCurrentValueSubject(5)

		var early []int
		s.Signal().Observe(func(v int) { early = append(early, v) })

		s.Set(0)

		var late []int
		s.Signal().Observe(func(v int) { late = append(late, v) })

		assert.Equal(t, []int{5, 0}, early)
		assert.Equal(t, []int{0}, late)
		assert.Equal(t, 0, s.Value())
	})

	t.Run("cancel stops delivery", func(t *testing.T) {
		s := NewCurrentValueSubject("a")
		var got []string
		tok := s.Signal().Observe(func(v string) { got = append(got, v) })
		tok.Cancel()
		s.Set("b")
		assert.Equal(t, []string{"a"}, got)
	})
}

func TestOperators(t *testing.T) {
	t.Run("map filter compactMap", func(t *testing.T) {
		s := NewSubject[int](nil)
		var got []string
		doubled := Map(Filter(s.Signal(), func(v int) bool { return v%2 == 0 }), func(v int) int { return v * 2 })
		CompactMap(doubled, func(v int) (string, bool) {
			if v > 4 {
				return "big", true
			}
			return "", false
		}).Observe(func(v string) { got = append(got, v) })

		for i := range 5 {
			s.Send(i)
		}
		assert.Equal(t, []string{"big"}, got)
	})

	t.Run("skip repeats", func(t *testing.T) {
		s := NewSubject[int](nil)
		var got []int
		SkipRepeats(s.Signal()).Observe(func(v int) { got = append(got, v) })
		for _, v := range []int{1, 1, 2, 2, 1} {
			s.Send(v)
		}
		assert.Equal(t, []int{1, 2, 1}, got)
	})

	t.Run("take first detaches", func(t *testing.T) {
		var transitions []bool
		s := NewSubject[int](func(o bool) { transitions = append(transitions, o) })
		var got []int
		ObserveNext(s.Signal(), func(v int) { got = append(got, v) })
		s.Send(1)
		s.Send(2)
		assert.Equal(t, []int{1}, got)
		assert.Equal(t, []bool{true, false}, transitions)
	})

	t.Run("take first with synchronous replay", func(t *testing.T) {
		s := NewCurrentValueSubject(7)
		var got []int
		tok := TakeFirst(s.Signal()).Observe(func(v int) { got = append(got, v) })
		s.Set(8)
		assert.Equal(t, []int{7}, got)
		assert.False(t, s.subject.HasObservers())
		tok.Cancel()
	})

	t.Run("latest value", func(t *testing.T) {
		s := NewSubject[int](nil)
		latest := LatestValue(s.Signal())
		_, ok := latest.Get()
		assert.False(t, ok)

		s.Send(3)
		s.Send(4)
		v, ok := latest.Get()
		assert.True(t, ok)
		assert.Equal(t, 4, v)

		latest.Cancel()
		s.Send(5)
		v, _ = latest.Get()
		assert.Equal(t, 4, v)
		assert.False(t, s.HasObservers())
	})

	t.Run("just", func(t *testing.T) {
		var got []string
		Just("x").Observe(func(v string) { got = append(got, v) })
		assert.Equal(t, []string{"x"}, got)
	})

	t.Run("cancelling handler", func(t *testing.T) {
		s := NewSubject[int](nil)
		var got []int
		ObserveWithCancellingHandler(s.Signal(), func(v int) bool {
			got = append(got, v)
			return v < 2
		})
		for i := range 4 {
			s.Send(i)
		}
		assert.Equal(t, []int{0, 1, 2}, got)
		assert.False(t, s.HasObservers())
	})

	t.Run("combine latest", func(t *testing.T) {
		a := NewSubject[int](nil)
		b := NewCurrentValueSubject("x")
		var got []Pair[int, string]
		tok := CombineLatest(a.Signal(), b.Signal()).Observe(func(p Pair[int, string]) { got = append(got, p) })

		assert.Empty(t, got)
		a.Send(1)
		b.Set("y")
		assert.Equal(t, []Pair[int, string]{{1, "x"}, {1, "y"}}, got)

		tok.Cancel()
		a.Send(2)
		assert.Len(t, got, 2)
		assert.False(t, a.HasObservers())
	})
}
