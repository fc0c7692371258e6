package persist

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatflow/internal/variables"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vars.db")
	s := NewBoltStore(path, zap.NewNop())
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })
	return s
}

// waitForBucket polls until the bucket contents match the expectation, since
// persistence runs behind an asynchronous change subscription.
func waitForBucket(t *testing.T, s *BoltStore, bucket string, want map[variables.Key]string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, err := s.Load(bucket)
		if err != nil || len(got) != len(want) {
			return false
		}
		for k, v := range want {
			if got[k] != v {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestOpenCreatesBuckets(t *testing.T) {
	s := newTestStore(t)

	for _, bucket := range []string{AppBucket, UserBucket} {
		vals, err := s.Load(bucket)
		require.NoError(t, err)
		assert.Empty(t, vals)
	}
}

func TestAttachPersistsChanges(t *testing.T) {
	s := newTestStore(t)

	store := variables.NewStore()
	stop := s.Attach(store)
	defer stop()

	appKey := variables.NewContextKey("access-token", "twitch")
	userKey := variables.NewKey("counter")
	store.App.Set(appKey, "tok-1")
	store.User.Set(userKey, "41")
	store.User.Set(userKey, "42")

	waitForBucket(t, s, AppBucket, map[variables.Key]string{appKey: "tok-1"})
	waitForBucket(t, s, UserBucket, map[variables.Key]string{userKey: "42"})
}

func TestAttachPersistsDeletes(t *testing.T) {
	s := newTestStore(t)

	store := variables.NewStore()
	stop := s.Attach(store)
	defer stop()

	key := variables.NewKey("ephemeral")
	store.User.Set(key, "here")
	waitForBucket(t, s, UserBucket, map[variables.Key]string{key: "here"})

	store.User.Delete(key)
	waitForBucket(t, s, UserBucket, map[variables.Key]string{})
}

func TestTransientScopeIsNotPersisted(t *testing.T) {
	s := newTestStore(t)

	store := variables.NewStore()
	stop := s.Attach(store)
	defer stop()

	store.Transient.Set(variables.NewContextKey("oauth-state", "twitch"), "nonce")
	marker := variables.NewKey("marker")
	store.App.Set(marker, "x")

	waitForBucket(t, s, AppBucket, map[variables.Key]string{marker: "x"})

	userVals, err := s.Load(UserBucket)
	require.NoError(t, err)
	assert.Empty(t, userVals)
}

func TestReopenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vars.db")

	s := NewBoltStore(path, zap.NewNop())
	require.NoError(t, s.Open())

	store := variables.NewStore()
	stop := s.Attach(store)
	appKey := variables.NewContextKey("username", "twitch")
	userKey := variables.NewKey("greeting")
	store.App.Set(appKey, "streamer")
	store.User.Set(userKey, "hello")
	waitForBucket(t, s, AppBucket, map[variables.Key]string{appKey: "streamer"})
	waitForBucket(t, s, UserBucket, map[variables.Key]string{userKey: "hello"})
	stop()
	require.NoError(t, s.Close())

	reopened := NewBoltStore(path, zap.NewNop())
	require.NoError(t, reopened.Open())
	defer reopened.Close()

	appVals, err := reopened.Load(AppBucket)
	require.NoError(t, err)
	assert.Equal(t, "streamer", appVals[appKey])

	fresh := variables.NewStore()
	fresh.App.Restore(appVals)
	assert.Equal(t, "streamer", fresh.App.GetDefault(appKey, ""))

	userVals, err := reopened.Load(UserBucket)
	require.NoError(t, err)
	assert.Equal(t, "hello", userVals[userKey])
}

func TestRestoreDoesNotEchoBack(t *testing.T) {
	s := newTestStore(t)

	store := variables.NewStore()
	stop := s.Attach(store)
	defer stop()

	// Restore is the startup rehydration path; it must not generate change
	// notifications that would rewrite the database.
	store.App.Restore(map[variables.Key]string{variables.NewKey("loaded"): "v"})

	// A subsequent real write serves as the fence: once it is persisted, any
	// echo from Restore would already be visible too.
	fence := variables.NewKey("fence")
	store.App.Set(fence, "1")
	waitForBucket(t, s, AppBucket, map[variables.Key]string{fence: "1"})
}

func TestKeyEncodingRoundTrip(t *testing.T) {
	tests := []variables.Key{
		variables.NewKey("plain"),
		variables.NewContextKey("access-token", "twitch"),
		variables.NewContextKey("name:with:colons", "twitch"),
	}
	for _, key := range tests {
		assert.Equal(t, key, decodeKey(encodeKey(key)), "key %v", key)
	}
}
