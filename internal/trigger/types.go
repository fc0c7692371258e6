// Package trigger implements the flow-trigger matching engine: polymorphic
// trigger definitions that subscribe to external event streams, evaluate an
// ordered chain of criteria and produce named variable bindings for the
// downstream automation layer.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"chatflow/internal/variables"
)

var (
	// ErrUnknownTrigger is returned for a trigger code with no registration.
	ErrUnknownTrigger = errors.New("unknown trigger code")
	// ErrConfigType is returned when Execute receives a config of the wrong
	// concrete type for the trigger.
	ErrConfigType = errors.New("config type does not match trigger")
)

// Config is the trigger-specific configuration payload. Each concrete config
// names the trigger code it belongs to, making the trigger/config pairing a
// closed set of tagged variants.
type Config interface {
	TriggerCode() string
}

// Definition is the immutable descriptor of a trigger type: its stable code,
// configuration schema version, display metadata and output contract (the
// ordered variable keys it promises to populate on a successful match).
type Definition struct {
	Code        string
	Version     string
	Name        string
	Category    string
	Description string
	Outputs     []variables.Key
}

// Trigger is a declarative rule mapping external events to variable sets.
//
// CanExecute is a stateless guard: it reports whether the prerequisite
// capability (typically a valid access token carrying the right scope)
// currently holds, and is re-evaluated by the host whenever authorization
// state changes. Execute subscribes to the external stream and emits one
// fresh variable set per matching event until the context is cancelled.
type Trigger interface {
	Code() string
	Version() string
	Name() string
	Category() string
	Description() string
	Outputs() []variables.Key
	CanExecute() bool
	Execute(ctx context.Context, config Config) (<-chan *variables.Set, error)
}

// Registry holds the known trigger types keyed by code, along with the
// decoder for each type's YAML configuration payload.
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]Trigger
	decoders map[string]func([]byte) (Config, error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]Trigger),
		decoders: make(map[string]func([]byte) (Config, error)),
	}
}

// Register adds a trigger and its config decoder. Registering the same code
// twice is a programming error and panics.
func (r *Registry) Register(t Trigger, decode func([]byte) (Config, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.triggers[t.Code()]; exists {
		panic(fmt.Sprintf("trigger %q registered twice", t.Code()))
	}
	r.triggers[t.Code()] = t
	r.decoders[t.Code()] = decode
}

// Get returns the trigger registered for the code.
func (r *Registry) Get(code string) (Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, code)
	}
	return t, nil
}

// Decode unmarshals a YAML configuration payload for the given trigger code.
func (r *Registry) Decode(code string, data []byte) (Config, error) {
	r.mu.RLock()
	decode, ok := r.decoders[code]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, code)
	}
	return decode(data)
}

// Definitions returns the descriptors of all registered triggers.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.triggers))
	for _, t := range r.triggers {
		defs = append(defs, Definition{
			Code:        t.Code(),
			Version:     t.Version(),
			Name:        t.Name(),
			Category:    t.Category(),
			Description: t.Description(),
			Outputs:     t.Outputs(),
		})
	}
	return defs
}

// decodeConfig is the shared YAML decoding helper used by the concrete
// config decoders.
func decodeConfig[T Config](data []byte) (Config, error) {
	var cfg T
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s config: %w", cfg.TriggerCode(), err)
	}
	return cfg, nil
}
