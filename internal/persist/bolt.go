// Package persist provides the durable key/value backend for the App and
// User variable scopes. It subscribes to variable change notifications and
// turns each one into an upsert or delete; the variable store itself never
// touches disk.
package persist

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"chatflow/internal/variables"
)

// Bucket names for the two durable scopes. The Transient scope is never
// wired here.
const (
	AppBucket  = "app"
	UserBucket = "user"
)

// keySeparator joins context and name in stored keys. Contexts are short
// integration labels and never contain it.
const keySeparator = ":"

// BoltStore persists variables in a bbolt database, one bucket per scope.
type BoltStore struct {
	filename string
	logger   *zap.Logger
	db       *bolt.DB
}

// NewBoltStore creates a store for the given database file.
func NewBoltStore(filename string, logger *zap.Logger) *BoltStore {
	return &BoltStore{filename: filename, logger: logger}
}

// Open opens the database and creates the scope buckets.
func (s *BoltStore) Open() error {
	opts := &bolt.Options{Timeout: time.Second}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.filename, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{AppBucket, UserBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create buckets: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load reads the full contents of a scope bucket, for rehydrating a variable
// set at startup.
func (s *BoltStore) Load(bucket string) (map[variables.Key]string, error) {
	out := make(map[variables.Key]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			out[decodeKey(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket %s: %w", bucket, err)
	}
	return out, nil
}

// Attach wires the App and User scopes of the store to persistence. Every
// change notification becomes an upsert (still present) or delete (removed).
// Write errors are logged and never propagated back into the store. The
// returned stop function detaches both subscriptions and waits for in-flight
// writes to finish; changes still queued at that point are discarded.
func (s *BoltStore) Attach(store *variables.Store) func() {
	appSub := store.App.Subscribe()
	userSub := store.User.Subscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.apply(AppBucket, appSub)
	}()
	go func() {
		defer wg.Done()
		s.apply(UserBucket, userSub)
	}()

	return func() {
		appSub.Close()
		userSub.Close()
		wg.Wait()
	}
}

func (s *BoltStore) apply(bucket string, sub *variables.Subscription) {
	for change := range sub.Changes() {
		err := s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(bucket))
			if change.Present {
				return b.Put(encodeKey(change.Key), []byte(change.Value))
			}
			return b.Delete(encodeKey(change.Key))
		})
		if err != nil {
			s.logger.Error("failed to persist variable change",
				zap.String("bucket", bucket),
				zap.String("name", change.Key.Name),
				zap.String("context", change.Key.Context),
				zap.Error(err))
		}
	}
}

func encodeKey(k variables.Key) []byte {
	return []byte(k.Context + keySeparator + k.Name)
}

func decodeKey(b []byte) variables.Key {
	context, name, found := bytes.Cut(b, []byte(keySeparator))
	if !found {
		return variables.NewKey(string(b))
	}
	return variables.NewContextKey(string(name), string(context))
}
