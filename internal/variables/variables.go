package variables

import (
	"strconv"
	"sync"
	"time"
)

// DefaultContext is the context used for variables that do not belong to a
// specific integration.
const DefaultContext = ""

// Key identifies a variable by name within a context. Contexts partition
// namespaces per integration (e.g. "twitch") so identically named variables
// from different integrations do not collide.
type Key struct {
	Name    string `json:"name" yaml:"name"`
	Context string `json:"context,omitempty" yaml:"context,omitempty"`
}

// NewKey creates a key in the default context.
func NewKey(name string) Key {
	return Key{Name: name}
}

// NewContextKey creates a key scoped to the given context.
func NewContextKey(name, context string) Key {
	return Key{Name: name, Context: context}
}

// Change describes a single mutation of a Set. Present reports whether the
// key still exists after the mutation; Value carries the new value on an
// upsert and the last value on a delete.
type Change struct {
	Key     Key
	Value   string
	Present bool
}

// Set is an ordered mapping from Key to string value. It is safe for
// concurrent use: mutations are serialized while reads may run concurrently.
// Every Set/Delete that changes observable state is broadcast to all live
// subscriptions, in write order, before the mutating call returns.
type Set struct {
	mu     sync.RWMutex
	values map[Key]string
	order  []Key
	subs   map[*Subscription]struct{}
}

// NewSet creates an empty variable set.
func NewSet() *Set {
	return &Set{
		values: make(map[Key]string),
		subs:   make(map[*Subscription]struct{}),
	}
}

// Get returns the value for the key and whether it exists.
func (s *Set) Get(key Key) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetDefault returns the value for the key, or def if absent.
func (s *Set) GetDefault(key Key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// GetByName returns the value of the first key (in insertion order) with the
// given name, regardless of context.
func (s *Set) GetByName(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.order {
		if k.Name == name {
			return s.values[k], true
		}
	}
	return "", false
}

// GetInt parses the stored value as an integer, returning def on absence or
// parse failure. Malformed values are treated as absent, never as errors.
func (s *Set) GetInt(key Key, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetFloat parses the stored value as a float, returning def on absence or
// parse failure.
func (s *Set) GetFloat(key Key, def float64) float64 {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetBool parses the stored value as a boolean, returning def on absence or
// parse failure.
func (s *Set) GetBool(key Key, def bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetTime parses the stored value as an RFC 3339 timestamp, returning def on
// absence or parse failure.
func (s *Set) GetTime(key Key, def time.Time) time.Time {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return def
	}
	return t
}

// Has reports whether the key exists.
func (s *Set) Has(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Keys returns all keys in insertion order.
func (s *Set) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, len(s.order))
	copy(keys, s.order)
	return keys
}

// Len returns the number of variables in the set.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Set upserts the value for the key and notifies all subscribers. The
// notification is enqueued before Set returns, so no subscriber ever observes
// a notification that is stale relative to the in-memory value.
func (s *Set) Set(key Key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; !exists {
		s.order = append(s.order, key)
	}
	s.values[key] = value
	s.notify(Change{Key: key, Value: value, Present: true})
}

// Delete removes the key if present and notifies all subscribers with the
// last value. Deleting an absent key is a no-op and emits nothing.
func (s *Set) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, exists := s.values[key]
	if !exists {
		return
	}
	delete(s.values, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.notify(Change{Key: key, Value: last, Present: false})
}

// Restore loads a snapshot of values without emitting change notifications.
// Used when rehydrating a set from persistence at startup.
func (s *Set) Restore(snapshot map[Key]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range snapshot {
		if _, exists := s.values[key]; !exists {
			s.order = append(s.order, key)
		}
		s.values[key] = value
	}
}

// Snapshot returns a copy of the current contents.
func (s *Set) Snapshot() map[Key]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// notify enqueues the change on every live subscription. Called with s.mu
// held so changes are queued in write order across all subscribers.
func (s *Set) notify(c Change) {
	for sub := range s.subs {
		sub.enqueue(c)
	}
}

// Subscribe registers a new subscription for change notifications. There is
// no replay: only changes made after Subscribe returns are delivered. Each
// subscription has its own unbounded queue, so a slow consumer never blocks
// writers or other subscribers, and no notification is ever dropped.
func (s *Set) Subscribe() *Subscription {
	sub := &Subscription{
		set:  s,
		out:  make(chan Change),
		done: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	go sub.pump()
	return sub
}

// Subscription delivers change notifications for one Set to one consumer.
type Subscription struct {
	set *Set

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Change
	closed bool

	out  chan Change
	done chan struct{}
}

// Changes returns the channel of change notifications. The channel is closed
// once Close has been called.
func (sub *Subscription) Changes() <-chan Change {
	return sub.out
}

// Close unsubscribes and releases the subscription. No further notifications
// are delivered even if some are still queued.
func (sub *Subscription) Close() {
	sub.set.mu.Lock()
	delete(sub.set.subs, sub)
	sub.set.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.done)
		sub.cond.Signal()
	}
	sub.mu.Unlock()
}

func (sub *Subscription) enqueue(c Change) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, c)
	sub.cond.Signal()
	sub.mu.Unlock()
}

func (sub *Subscription) pump() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		batch := sub.queue
		sub.queue = nil
		closed := sub.closed
		sub.mu.Unlock()

		for _, c := range batch {
			select {
			case sub.out <- c:
			case <-sub.done:
				close(sub.out)
				return
			}
		}
		if closed {
			close(sub.out)
			return
		}
	}
}
