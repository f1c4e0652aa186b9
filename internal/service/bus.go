package service

import "sync"

// EventBus fans style events out to subscribers such as SSE streams.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan EventView]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan EventView]struct{})}
}

// Publish sends e to every subscriber without blocking.
func (b *EventBus) Publish(e EventView) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan EventView {
	ch := make(chan EventView, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan EventView) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of active subscriptions.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
