package entity

// Severity ranks a finding. Order matters: Rank is used for priority shifts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// IsValid checks if the severity is one of the defined constants
func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

// Rank returns the position of the severity from low (0) to critical (3), or -1.
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Shift moves the severity by delta tiers, clamped to the enumerated set.
func (s Severity) Shift(delta int) Severity {
	r := s.Rank()
	if r < 0 {
		return s
	}
	r += delta
	if r < 0 {
		r = 0
	}
	if r >= len(severityOrder) {
		r = len(severityOrder) - 1
	}
	return severityOrder[r]
}

// FindingCategory enumerates compliance violation types
type FindingCategory string

const (
	CategoryMissingVATID           FindingCategory = "missing_vat_id"
	CategoryReverseChargeMismatch  FindingCategory = "reverse_charge_mismatch"
	CategoryRoundingMismatch       FindingCategory = "rounding_mismatch"
	CategoryInvalidRateForCategory FindingCategory = "invalid_rate_for_category"
	CategoryInvalidVATIDFormat     FindingCategory = "invalid_vat_id_format"
)

// FindingStatus is the remediation state of a finding
type FindingStatus string

const (
	FindingStatusOpen     FindingStatus = "open"
	FindingStatusFixed    FindingStatus = "fixed"
	FindingStatusRejected FindingStatus = "rejected"
)

// SupplyCategory describes the kind of supply an invoice records
type SupplyCategory string

const (
	SupplyDomestic       SupplyCategory = "domestic"
	SupplyCrossBorderB2B SupplyCategory = "cross_border_b2b"
	SupplyCrossBorderB2C SupplyCategory = "cross_border_b2c"
)

// IsValid checks if the supply category is one of the defined constants
func (c SupplyCategory) IsValid() bool {
	switch c {
	case SupplyDomestic, SupplyCrossBorderB2B, SupplyCrossBorderB2C:
		return true
	default:
		return false
	}
}

// Product category constants used for VAT rate lookup
const (
	ProductStandard        = "standard"
	ProductReduced         = "reduced"
	ProductFood            = "food"
	ProductBooks           = "books"
	ProductMedical         = "medical"
	ProductDigitalServices = "digital_services"
)

// FixKind distinguishes strategy-applied fixes from operator-confirmed ones
type FixKind string

const (
	FixKindAuto   FixKind = "auto"
	FixKindManual FixKind = "manual"
)

// UploadStatus tracks background detection for an upload
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusQueued     UploadStatus = "queued"
	UploadStatusProcessing UploadStatus = "processing"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
)

// IsTerminal returns true when no further processing will happen
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed
}
