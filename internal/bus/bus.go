// Package bus provides the in-process publish/subscribe fabric that decouples
// session, chat, and notification producers from their consumers.
package bus

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxListeners is the per-event listener cap applied when no explicit
// cap is configured. Exceeding it indicates a subscription leak.
const DefaultMaxListeners = 100

// Event is a named payload delivered to subscribed listeners.
type Event struct {
	Name    string
	Payload any
}

// Listener consumes a published event. Listeners run synchronously on the
// publisher's goroutine and must complete their state transitions before
// returning.
type Listener func(Event)

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	event string
	id    uint64
}

type entry struct {
	id uint64
	fn Listener
}

// Bus delivers events synchronously, in registration order, to the listeners
// subscribed at publish time. Events with no listeners are dropped; there is
// no queuing and no replay. All methods are safe for concurrent use.
type Bus struct {
	mu           sync.Mutex
	listeners    map[string][]entry
	nextID       uint64
	maxListeners int
	logger       *zap.Logger
}

// New creates a Bus with the given per-event listener cap.
// A cap of zero falls back to DefaultMaxListeners.
//
// Precondition: logger must be non-nil.
func New(maxListeners int, logger *zap.Logger) *Bus {
	if maxListeners <= 0 {
		maxListeners = DefaultMaxListeners
	}
	return &Bus{
		listeners:    make(map[string][]entry),
		maxListeners: maxListeners,
		logger:       logger,
	}
}

// Subscribe registers fn for events named event and returns its handle.
// Exceeding the listener cap is a programming error: the listener is still
// registered, but a warning is logged to surface the leak.
//
// Precondition: event must be non-empty; fn must not be nil.
func (b *Bus) Subscribe(event string, fn Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := Subscription{event: event, id: b.nextID}
	b.listeners[event] = append(b.listeners[event], entry{id: sub.id, fn: fn})

	if n := len(b.listeners[event]); n > b.maxListeners {
		b.logger.Warn("event listener cap exceeded, possible subscription leak",
			zap.String("event", event),
			zap.Int("listeners", n),
			zap.Int("cap", b.maxListeners),
		)
	}
	return sub
}

// Unsubscribe removes the listener identified by sub. Unsubscribing a handle
// twice is a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.listeners[sub.event]
	for i, e := range entries {
		if e.id == sub.id {
			b.listeners[sub.event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.listeners[sub.event]) == 0 {
		delete(b.listeners, sub.event)
	}
}

// Publish delivers payload to every listener currently subscribed to event,
// synchronously and in registration order. Publishing with zero subscribers
// never errors and never blocks.
//
// The snapshot of listeners is taken before delivery, so a listener may
// subscribe or unsubscribe (including itself) without affecting the in-flight
// dispatch and without deadlocking.
func (b *Bus) Publish(event string, payload any) {
	b.mu.Lock()
	entries := b.listeners[event]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	b.mu.Unlock()

	evt := Event{Name: event, Payload: payload}
	for _, e := range snapshot {
		e.fn(evt)
	}
}

// ListenerCount returns the number of listeners currently subscribed to event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}
