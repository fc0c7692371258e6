// Package bus provides an in-process publish/subscribe bus for cross-cutting
// domain notifications such as errors and authorization lifecycle events.
// Delivery is fire-and-forget: at most once per live subscriber, no replay,
// no persistence. Ordering is preserved per event type for a single
// publisher's sequential calls; there is no ordering guarantee across
// distinct event types.
package bus

import (
	"reflect"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind than this loses events rather than blocking the
// publisher.
const subscriberBuffer = 64

// ErrorEvent is published when a component hits a recoverable external
// failure worth surfacing (HTTP failures, stream decode errors).
type ErrorEvent struct {
	Source  string
	Message string
}

// Bus dispatches published events to all subscriptions of the matching type.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]func(any)
	nextID uint64
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[uint64]func(any))}
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[string]map[uint64]func(any))
}

func (b *Bus) add(key string, deliver func(any)) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[key] == nil {
		b.subs[key] = make(map[uint64]func(any))
	}
	b.subs[key][id] = deliver
	return id
}

func (b *Bus) remove(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[key], id)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

func typeKey[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// Publish delivers event to every live subscriber of its type. Subscribers
// with full buffers are skipped.
func Publish[T any](b *Bus, event T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, deliver := range b.subs[typeKey[T]()] {
		deliver(event)
	}
}

// Subscription receives events of a single type.
type Subscription[T any] struct {
	bus  *Bus
	key  string
	id   uint64
	ch   chan T
	once sync.Once
}

// Subscribe registers a subscription for events of type T. Subscribing never
// delivers past events.
func Subscribe[T any](b *Bus) *Subscription[T] {
	ch := make(chan T, subscriberBuffer)
	sub := &Subscription[T]{bus: b, key: typeKey[T](), ch: ch}
	sub.id = b.add(sub.key, func(v any) {
		event, ok := v.(T)
		if !ok {
			return
		}
		select {
		case ch <- event:
		default:
		}
	})
	return sub
}

// Events returns the channel of received events.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Close unsubscribes and closes the event channel.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.bus.remove(s.key, s.id)
		close(s.ch)
	})
}
