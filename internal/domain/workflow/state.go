package workflow

import "github.com/garyjia/vat-compliance/internal/domain/entity"

// State is a remediation state of a finding
type State string

const (
	StateOpen     State = "open"
	StateFixed    State = "fixed"
	StateRejected State = "rejected"
)

// IsTerminal returns true if no transition leaves the state
func (s State) IsTerminal() bool {
	return s == StateRejected
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known finding state
func (s State) IsValid() bool {
	switch s {
	case StateOpen, StateFixed, StateRejected:
		return true
	default:
		return false
	}
}

// FromStatus maps a persisted finding status to a machine state
func FromStatus(status entity.FindingStatus) State {
	return State(status)
}

// Status maps the state back to the persisted finding status
func (s State) Status() entity.FindingStatus {
	return entity.FindingStatus(s)
}
