package workflow

import "github.com/garyjia/vat-compliance/internal/domain/entity"

var findingBuilder = newFindingBuilder()

// newFindingBuilder wires the finding lifecycle:
//
//	open --fix/resolve_manually--> fixed --undo--> open
//	open --reject--> rejected
func newFindingBuilder() *Builder {
	b := NewBuilder()
	b.Configure(StateOpen).
		Permit(TriggerFix, StateFixed).
		Permit(TriggerResolve, StateFixed).
		Permit(TriggerReject, StateRejected)
	b.Configure(StateFixed).
		Permit(TriggerUndo, StateOpen)
	b.Configure(StateRejected)
	return b
}

// ForFinding builds a lifecycle machine positioned at the finding's status
func ForFinding(f *entity.Finding) StateMachine {
	return findingBuilder.Build(FromStatus(f.Status))
}
