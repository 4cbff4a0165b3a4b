package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/types"
)

// Condition optionally gates a trigger. A nil condition always fires.
type Condition func(ctx context.Context, evt Event) (bool, error)

// RuleOperation is one operation a trigger enqueues
type RuleOperation struct {
	ID       string
	Priority int
	Config   map[string]any
}

// Trigger fires a list of operations when an event matches
type Trigger struct {
	Event      string // glob pattern over topics
	Condition  Condition
	Operations []RuleOperation
}

// WorkflowRule binds triggers to one container
type WorkflowRule struct {
	Container string
	Triggers  []Trigger
}

// OperationEnqueuer is the queue surface the dispatcher needs
type OperationEnqueuer interface {
	EnqueueForEvent(def *types.ContainerDefinition, opID string, priority int, config map[string]any, event string) (*types.OperationTask, error)
}

// ContainerLookup resolves a container id to its definition
type ContainerLookup func(id string) *types.ContainerDefinition

// BindingCheck verifies an operation is permitted on a container
type BindingCheck func(def *types.ContainerDefinition, opID string) error

// Dispatcher observes every bus event and translates matching events
// into queued operations according to its rule table. Rules are
// validated against container binding at registration time, never at
// dispatch.
type Dispatcher struct {
	bus      *Bus
	queue    OperationEnqueuer
	lookup   ContainerLookup
	binding  BindingCheck
	logger   zerolog.Logger
	mu       sync.RWMutex
	rules    []WorkflowRule
	detach   func()
	attached bool
}

// NewDispatcher creates a dispatcher over a bus and queue
func NewDispatcher(bus *Bus, queue OperationEnqueuer, lookup ContainerLookup, binding BindingCheck) *Dispatcher {
	return &Dispatcher{
		bus:     bus,
		queue:   queue,
		lookup:  lookup,
		binding: binding,
		logger:  log.WithComponent("dispatcher"),
	}
}

// Register validates and installs a workflow rule. The first rule
// attaches the dispatcher to the bus as a catch-all middleware.
func (d *Dispatcher) Register(rule WorkflowRule) error {
	def := d.lookup(rule.Container)
	if def == nil {
		return fmt.Errorf("workflow rule targets unknown container %q", rule.Container)
	}
	if len(rule.Triggers) == 0 {
		return fmt.Errorf("workflow rule for %q declares no triggers", rule.Container)
	}
	for _, trig := range rule.Triggers {
		if trig.Event == "" {
			return fmt.Errorf("workflow rule for %q has a trigger without an event pattern", rule.Container)
		}
		for _, op := range trig.Operations {
			if err := d.binding(def, op.ID); err != nil {
				return fmt.Errorf("workflow rule for %q rejected: %w", rule.Container, err)
			}
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, rule)
	if !d.attached {
		d.detach = d.bus.Subscribe("**", d.onEvent)
		d.attached = true
	}
	return nil
}

// Rules returns a copy of the installed rule table
func (d *Dispatcher) Rules() []WorkflowRule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]WorkflowRule, len(d.rules))
	copy(out, d.rules)
	return out
}

// Close detaches the dispatcher from the bus
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached {
		d.detach()
		d.attached = false
	}
}

// onEvent matches every installed trigger against the event; matched
// triggers enqueue their operations in declaration order. No dedup:
// the same event dispatched twice enqueues twice.
func (d *Dispatcher) onEvent(ctx context.Context, evt Event) error {
	d.mu.RLock()
	rules := make([]WorkflowRule, len(d.rules))
	copy(rules, d.rules)
	d.mu.RUnlock()

	for _, rule := range rules {
		def := d.lookup(rule.Container)
		if def == nil {
			continue
		}
		for _, trig := range rule.Triggers {
			if !TopicMatches(trig.Event, evt.Topic) {
				continue
			}
			if trig.Condition != nil {
				ok, err := trig.Condition(ctx, evt)
				if err != nil {
					d.logger.Error().Err(err).
						Str("container", rule.Container).
						Str("topic", evt.Topic).
						Msg("Trigger condition failed")
					continue
				}
				if !ok {
					continue
				}
			}
			for _, op := range trig.Operations {
				if _, err := d.queue.EnqueueForEvent(def, op.ID, op.Priority, op.Config, evt.Topic); err != nil {
					d.logger.Error().Err(err).
						Str("container", rule.Container).
						Str("operation", op.ID).
						Msg("Failed to enqueue triggered operation")
				}
			}
		}
	}
	return nil
}
