package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a configured transition may be taken
type GuardFunc func(ctx context.Context) bool

type transition struct {
	to    State
	guard GuardFunc
}

// Builder collects transitions and builds independent machines from them
type Builder struct {
	table map[State]map[Trigger][]transition
}

// StateConfiguration configures transitions leaving one state
type StateConfiguration struct {
	b    *Builder
	from State
}

// NewBuilder creates an empty transition table
func NewBuilder() *Builder {
	return &Builder{table: make(map[State]map[Trigger][]transition)}
}

// Configure returns the configuration for transitions leaving state
func (b *Builder) Configure(state State) *StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if _, ok := b.table[state]; !ok {
		b.table[state] = make(map[Trigger][]transition)
	}
	return &StateConfiguration{b: b, from: state}
}

// Permit allows trigger to move the machine to state to
func (c *StateConfiguration) Permit(trigger Trigger, to State) *StateConfiguration {
	return c.PermitIf(trigger, to, nil)
}

// PermitIf allows trigger to move the machine to state to when guard passes.
// Guards are tried in registration order.
func (c *StateConfiguration) PermitIf(trigger Trigger, to State, guard GuardFunc) *StateConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", to))
	}
	c.b.table[c.from][trigger] = append(c.b.table[c.from][trigger], transition{to: to, guard: guard})
	return c
}

// Build creates a machine in the initial state. The table is copied so later
// Configure calls do not affect built machines.
func (b *Builder) Build(initial State) StateMachine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}

	table := make(map[State]map[Trigger][]transition, len(b.table))
	for from, triggers := range b.table {
		copied := make(map[Trigger][]transition, len(triggers))
		for trigger, ts := range triggers {
			copied[trigger] = append([]transition(nil), ts...)
		}
		table[from] = copied
	}

	return &machine{current: initial, table: table}
}

type machine struct {
	current State
	table   map[State]map[Trigger][]transition
}

func (m *machine) State() State {
	return m.current
}

// CanFire reports whether any transition is configured; guards are not evaluated
func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.table[m.current][trigger]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	ts := m.table[m.current][trigger]
	if len(ts) == 0 {
		return fmt.Errorf("%w: cannot %s a finding in state %s", ErrInvalidTransition, trigger, m.current)
	}

	for _, t := range ts {
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return nil
		}
	}

	return fmt.Errorf("%w: %s from state %s", ErrGuardFailed, trigger, m.current)
}
