package variables

// Store holds the three independently-lifecycled variable scopes:
//
//   - App: durable, machine-scoped configuration and integration state.
//   - User: durable, user-authored data referenced by automation authors.
//   - Transient: process-lifetime only, never persisted (e.g. CSRF state
//     tokens during authorization).
//
// A Store is constructed explicitly and passed to every component that needs
// it; there is no package-level singleton.
type Store struct {
	App       *Set
	User      *Set
	Transient *Set
}

// NewStore creates a store with three empty scopes.
func NewStore() *Store {
	return &Store{
		App:       NewSet(),
		User:      NewSet(),
		Transient: NewSet(),
	}
}
