package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// FixRecord is the audit entry for one applied correction. It is append-only;
// the only later write is the undo stamp.
type FixRecord struct {
	ID               string          `json:"id"`
	FindingID        string          `json:"finding_id"`
	InvoiceID        string          `json:"invoice_id"`
	CompanyID        string          `json:"company_id"`
	ActorID          string          `json:"actor_id"`
	Kind             FixKind         `json:"kind"`
	Diff             FieldDiff       `json:"applied_invoice_diff"`
	Note             string          `json:"note,omitempty"`
	PenaltyAvoided   decimal.Decimal `json:"penalty_avoided"`
	LaborCostAvoided decimal.Decimal `json:"labor_cost_avoided"`
	SavingsAmount    decimal.Decimal `json:"savings_amount"`
	Period           string          `json:"period"`
	AppliedAt        time.Time       `json:"applied_at"`
	UndoneAt         *time.Time      `json:"undone_at,omitempty"`
	UndoneBy         string          `json:"undone_by,omitempty"`
}

// IsActive reports whether the fix has not been undone
func (r *FixRecord) IsActive() bool {
	return r.UndoneAt == nil
}
