package events

import (
	"log"
	"sync"
)

// Bus fans events out to registered subscriber channels. Events published
// from a single goroutine are delivered to each subscriber in publish
// order; no ordering is guaranteed across publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel. The buffer
// should be generous; a subscriber that falls behind misses events rather
// than blocking publishers.
func (b *Bus) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers the event to every subscriber. Slow subscribers drop the
// event instead of stalling the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("events: dropping %q for slow subscriber", ev.Name)
		}
	}
}

// PublishError is a convenience for broadcasting an error notification.
func (b *Bus) PublishError(message string) {
	b.Publish(Event{Name: Error, Payload: ErrorPayload{Message: message}})
}
