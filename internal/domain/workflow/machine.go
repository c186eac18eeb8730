package workflow

import "context"

// StateMachine tracks the current state and validates transitions
type StateMachine interface {
	State() State
	CanFire(trigger Trigger) bool
	Fire(ctx context.Context, trigger Trigger) error
}
