package event

// Type identifies the type of domain event
type Type string

const (
	TypeDetectionCompleted  Type = "detection.completed"
	TypeFixApplied          Type = "fix.applied"
	TypeFixUndone           Type = "fix.undone"
	TypeFindingRejected     Type = "finding.rejected"
	TypeUploadStatusChanged Type = "upload.status_changed"
)

// AllTypes lists every defined event type
func AllTypes() []Type {
	return []Type{
		TypeDetectionCompleted,
		TypeFixApplied,
		TypeFixUndone,
		TypeFindingRejected,
		TypeUploadStatusChanged,
	}
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDetectionCompleted,
		TypeFixApplied,
		TypeFixUndone,
		TypeFindingRejected,
		TypeUploadStatusChanged:
		return true
	default:
		return false
	}
}

// AffectsHealth reports whether the event changes a company's unresolved findings
func (t Type) AffectsHealth() bool {
	switch t {
	case TypeDetectionCompleted, TypeFixApplied, TypeFixUndone, TypeFindingRejected:
		return true
	default:
		return false
	}
}
