package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// SavingsSnapshot holds realized savings for one company in one period.
// Rows are created lazily and never deleted; balances are floored at zero.
type SavingsSnapshot struct {
	CompanyID        string          `json:"company_id"`
	Period           string          `json:"period"`
	PenaltyAvoided   decimal.Decimal `json:"penalty_avoided"`
	LaborCostAvoided decimal.Decimal `json:"labor_cost_avoided"`
	TotalSavings     decimal.Decimal `json:"total_savings"`
	AutoFixes        int64           `json:"auto_fixes"`
	ManualFixes      int64           `json:"manual_fixes"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SavingsDelta is a signed change applied to one snapshot row
type SavingsDelta struct {
	PenaltyAvoided   decimal.Decimal
	LaborCostAvoided decimal.Decimal
	AutoFixes        int64
	ManualFixes      int64
}

// Negate returns the mirrored delta used for debits
func (d SavingsDelta) Negate() SavingsDelta {
	return SavingsDelta{
		PenaltyAvoided:   d.PenaltyAvoided.Neg(),
		LaborCostAvoided: d.LaborCostAvoided.Neg(),
		AutoFixes:        -d.AutoFixes,
		ManualFixes:      -d.ManualFixes,
	}
}

// Total returns penalty plus labor savings
func (d SavingsDelta) Total() decimal.Decimal {
	return d.PenaltyAvoided.Add(d.LaborCostAvoided)
}
