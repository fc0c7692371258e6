// Package runner hosts the configured flows: it owns each trigger's output
// subscription, re-evaluates trigger eligibility whenever authorization state
// changes and forwards fired variable sets to the downstream sink.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatflow/internal/bus"
	"chatflow/internal/oauth"
	"chatflow/internal/trigger"
	"chatflow/internal/variables"
)

// Sink consumes the variable sets fired by a flow's trigger.
type Sink func(flowID string, vars *variables.Set)

// Flow pairs a trigger with one user-authored configuration.
type Flow struct {
	ID          string
	Name        string
	TriggerCode string
	Config      trigger.Config
	Enabled     bool
}

type flowState struct {
	flow   Flow
	cancel context.CancelFunc
	// run increments on every start so a finished stream only marks its own
	// run idle, never a successor started by a later reconcile.
	run uint64
}

// Runner drives all flows. Triggers whose capability check fails stay idle
// and are retried when an authorization lifecycle event arrives; triggers
// whose capability lapses are cancelled.
type Runner struct {
	registry *trigger.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	sink     Sink

	mu    sync.Mutex
	flows map[string]*flowState
	ctx   context.Context

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. The sink must not be nil.
func NewRunner(registry *trigger.Registry, b *bus.Bus, logger *zap.Logger, sink Sink) *Runner {
	return &Runner{
		registry: registry,
		bus:      b,
		logger:   logger,
		sink:     sink,
		flows:    make(map[string]*flowState),
	}
}

// AddFlow registers a flow. A missing ID is filled in. Flows added after
// Start are picked up on the next reconcile.
func (r *Runner) AddFlow(f Flow) (string, error) {
	if f.TriggerCode == "" {
		return "", fmt.Errorf("flow %q has no trigger code", f.Name)
	}
	if _, err := r.registry.Get(f.TriggerCode); err != nil {
		return "", err
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	r.mu.Lock()
	r.flows[f.ID] = &flowState{flow: f}
	r.mu.Unlock()
	return f.ID, nil
}

// Start launches every eligible flow and begins watching authorization
// lifecycle events. It returns immediately; Stop tears everything down.
func (r *Runner) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.reconcile()

	authorized := bus.Subscribe[oauth.AuthorizedEvent](r.bus)
	revoked := bus.Subscribe[oauth.RevokedEvent](r.bus)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer authorized.Close()
		defer revoked.Close()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-authorized.Events():
				r.reconcile()
			case <-revoked.Events():
				r.reconcile()
			}
		}
	}()
}

// Stop cancels all flows and waits for them to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// reconcile starts newly eligible flows and cancels ones whose capability
// lapsed.
func (r *Runner) reconcile() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return
	}

	for id, state := range r.flows {
		t, err := r.registry.Get(state.flow.TriggerCode)
		if err != nil {
			continue
		}
		should := state.flow.Enabled && t.CanExecute()
		running := state.cancel != nil

		switch {
		case should && !running:
			r.startFlow(id, state, t)
		case !should && running:
			r.logger.Info("stopping flow", zap.String("flow_id", id), zap.String("trigger", state.flow.TriggerCode))
			state.cancel()
			state.cancel = nil
		}
	}
}

// startFlow launches one flow. Called with r.mu held.
func (r *Runner) startFlow(id string, state *flowState, t trigger.Trigger) {
	flowCtx, cancel := context.WithCancel(r.ctx)

	out, err := t.Execute(flowCtx, state.flow.Config)
	if err != nil {
		cancel()
		r.logger.Error("failed to start flow", zap.String("flow_id", id), zap.String("trigger", state.flow.TriggerCode), zap.Error(err))
		return
	}
	state.cancel = cancel
	state.run++
	run := state.run
	r.logger.Info("started flow", zap.String("flow_id", id), zap.String("trigger", state.flow.TriggerCode))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for vars := range out {
			r.sink(id, vars)
		}
		// The stream ended; mark the flow idle so a later reconcile can
		// restart it.
		r.mu.Lock()
		if r.flows[id] == state && state.run == run && state.cancel != nil {
			state.cancel()
			state.cancel = nil
		}
		r.mu.Unlock()
	}()
}

// SetEnabled flips a flow's enabled state and reconciles.
func (r *Runner) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	state, ok := r.flows[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown flow %s", id)
	}
	state.flow.Enabled = enabled
	r.mu.Unlock()
	r.reconcile()
	return nil
}
