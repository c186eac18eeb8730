package workflow

// Trigger is an operator action on a finding
type Trigger string

const (
	TriggerFix     Trigger = "fix"
	TriggerResolve Trigger = "resolve_manually"
	TriggerUndo    Trigger = "undo"
	TriggerReject  Trigger = "reject"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
