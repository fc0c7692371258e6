package variables

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	s := NewSet()
	key := NewContextKey("chat.username", "twitch")

	_, ok := s.Get(key)
	assert.False(t, ok)

	s.Set(key, "alice")
	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "alice", v)
	assert.True(t, s.Has(key))

	s.Delete(key)
	assert.False(t, s.Has(key))
	_, ok = s.Get(key)
	assert.False(t, ok)
}

func TestKeyContextsDoNotCollide(t *testing.T) {
	s := NewSet()
	s.Set(NewContextKey("username", "twitch"), "alice")
	s.Set(NewKey("username"), "bob")

	assert.Equal(t, "alice", s.GetDefault(NewContextKey("username", "twitch"), ""))
	assert.Equal(t, "bob", s.GetDefault(NewKey("username"), ""))
	assert.Equal(t, 2, s.Len())
}

func TestTypedGetters(t *testing.T) {
	s := NewSet()
	s.Set(NewKey("count"), "42")
	s.Set(NewKey("ratio"), "0.5")
	s.Set(NewKey("flag"), "true")
	s.Set(NewKey("when"), "2024-06-01T12:00:00Z")
	s.Set(NewKey("garbage"), "not-a-number")

	assert.Equal(t, 42, s.GetInt(NewKey("count"), 0))
	assert.Equal(t, 0.5, s.GetFloat(NewKey("ratio"), 0))
	assert.Equal(t, true, s.GetBool(NewKey("flag"), false))
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), s.GetTime(NewKey("when"), time.Time{}))

	// Malformed values are treated as absent, returning the default.
	assert.Equal(t, 7, s.GetInt(NewKey("garbage"), 7))
	assert.Equal(t, true, s.GetBool(NewKey("garbage"), true))

	// Absent keys return the default.
	assert.Equal(t, 9, s.GetInt(NewKey("missing"), 9))
}

func TestChangeNotifications(t *testing.T) {
	s := NewSet()
	sub := s.Subscribe()
	defer sub.Close()

	key := NewKey("greeting")
	s.Set(key, "hello")
	s.Set(key, "goodbye")
	s.Delete(key)

	c := <-sub.Changes()
	assert.Equal(t, Change{Key: key, Value: "hello", Present: true}, c)
	c = <-sub.Changes()
	assert.Equal(t, Change{Key: key, Value: "goodbye", Present: true}, c)
	c = <-sub.Changes()
	assert.Equal(t, Change{Key: key, Value: "hello", Present: false}, c)
	assert.Equal(t, "goodbye", c.Value)
}

func TestDeleteAbsentKeyEmitsNothing(t *testing.T) {
	s := NewSet()
	sub := s.Subscribe()
	defer sub.Close()

	s.Delete(NewKey("never-set"))
	s.Set(NewKey("marker"), "1")

	// The very next notification is the marker write, proving the delete
	// emitted nothing.
	c := <-sub.Changes()
	assert.Equal(t, "marker", c.Key.Name)
}

func TestDeleteCarriesLastValue(t *testing.T) {
	s := NewSet()
	key := NewKey("token")
	s.Set(key, "secret")

	sub := s.Subscribe()
	defer sub.Close()

	s.Delete(key)
	c := <-sub.Changes()
	assert.False(t, c.Present)
	assert.Equal(t, "secret", c.Value)
}

func TestSubscribeHasNoReplay(t *testing.T) {
	s := NewSet()
	s.Set(NewKey("before"), "1")

	sub := s.Subscribe()
	defer sub.Close()

	s.Set(NewKey("after"), "2")
	c := <-sub.Changes()
	assert.Equal(t, "after", c.Key.Name)
}

func TestMultipleSubscribersObserveEveryNotification(t *testing.T) {
	s := NewSet()
	first := s.Subscribe()
	defer first.Close()
	second := s.Subscribe()
	defer second.Close()

	key := NewKey("counter")
	const writes = 100
	for i := 0; i < writes; i++ {
		s.Set(key, fmt.Sprintf("%d", i))
	}

	for _, sub := range []*Subscription{first, second} {
		for i := 0; i < writes; i++ {
			c := <-sub.Changes()
			assert.Equal(t, fmt.Sprintf("%d", i), c.Value)
		}
	}
}

func TestSlowSubscriberDoesNotBlockWriters(t *testing.T) {
	s := NewSet()
	// Never read from this subscription.
	stalled := s.Subscribe()
	defer stalled.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Set(NewKey("spam"), fmt.Sprintf("%d", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked by a stalled subscriber")
	}
}

func TestConcurrentMutationIsSafe(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			key := NewKey(fmt.Sprintf("worker-%d", g))
			for i := 0; i < 200; i++ {
				s.Set(key, fmt.Sprintf("%d", i))
				s.Get(key)
				if i%3 == 0 {
					s.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestRestoreDoesNotNotify(t *testing.T) {
	s := NewSet()
	sub := s.Subscribe()
	defer sub.Close()

	s.Restore(map[Key]string{
		NewKey("a"): "1",
		NewKey("b"): "2",
	})
	assert.Equal(t, "1", s.GetDefault(NewKey("a"), ""))

	s.Set(NewKey("marker"), "3")
	c := <-sub.Changes()
	assert.Equal(t, "marker", c.Key.Name)
}

func TestClosedSubscriptionChannelCloses(t *testing.T) {
	s := NewSet()
	sub := s.Subscribe()
	sub.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Changes():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestStoreScopesAreIndependent(t *testing.T) {
	store := NewStore()
	key := NewKey("value")
	store.App.Set(key, "app")
	store.User.Set(key, "user")
	store.Transient.Set(key, "transient")

	assert.Equal(t, "app", store.App.GetDefault(key, ""))
	assert.Equal(t, "user", store.User.GetDefault(key, ""))
	assert.Equal(t, "transient", store.Transient.GetDefault(key, ""))
}
