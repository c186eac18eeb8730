// Package ledger holds the pure parts of savings accounting: period keys,
// aggregation and ROI.
package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/shopspring/decimal"
)

var periodPattern = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)

// QuarterOf returns the calendar-quarter period key ("2026-Q4") containing t
func QuarterOf(t time.Time) string {
	t = t.UTC()
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%04d-Q%d", t.Year(), q)
}

// ValidPeriod reports whether p is a well-formed quarter key
func ValidPeriod(p string) bool {
	return periodPattern.MatchString(p)
}

// PeriodBounds returns the half-open UTC interval [start, end) of a period
func PeriodBounds(p string) (time.Time, time.Time, error) {
	m := periodPattern.FindStringSubmatch(p)
	if m == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q, want YYYY-QN", p)
	}
	year, _ := strconv.Atoi(m[1])
	q, _ := strconv.Atoi(m[2])
	start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, 0), nil
}

// Aggregates is a savings rollup over one or more periods
type Aggregates struct {
	CompanyID        string          `json:"company_id"`
	Period           string          `json:"period,omitempty"`
	Periods          int             `json:"periods"`
	PenaltyAvoided   decimal.Decimal `json:"penalty_avoided"`
	LaborCostAvoided decimal.Decimal `json:"labor_cost_avoided"`
	TotalSavings     decimal.Decimal `json:"total_savings"`
	AutoFixes        int64           `json:"auto_fixes"`
	ManualFixes      int64           `json:"manual_fixes"`
	ServiceCost      decimal.Decimal `json:"service_cost"`
	ROIPercent       decimal.Decimal `json:"roi_percent"`
}

// Sum rolls snapshots up into one aggregate. ROI is left for WithROI.
func Sum(companyID string, snapshots []*entity.SavingsSnapshot) Aggregates {
	agg := Aggregates{
		CompanyID:        companyID,
		PenaltyAvoided:   decimal.Zero,
		LaborCostAvoided: decimal.Zero,
		TotalSavings:     decimal.Zero,
		ServiceCost:      decimal.Zero,
		ROIPercent:       decimal.Zero,
	}
	for _, s := range snapshots {
		agg.Periods++
		agg.PenaltyAvoided = agg.PenaltyAvoided.Add(s.PenaltyAvoided)
		agg.LaborCostAvoided = agg.LaborCostAvoided.Add(s.LaborCostAvoided)
		agg.TotalSavings = agg.TotalSavings.Add(s.TotalSavings)
		agg.AutoFixes += s.AutoFixes
		agg.ManualFixes += s.ManualFixes
	}
	return agg
}

// WithROI sets the service cost and derived ROI
func (a Aggregates) WithROI(serviceCost decimal.Decimal) Aggregates {
	a.ServiceCost = serviceCost
	a.ROIPercent = ROI(a.PenaltyAvoided, a.LaborCostAvoided, serviceCost)
	return a
}

// ROI returns (penalty + labor − cost) / cost × 100, rounded to two places.
// It is zero when cost is not positive.
func ROI(penaltyAvoided, laborCostAvoided, serviceCost decimal.Decimal) decimal.Decimal {
	if !serviceCost.IsPositive() {
		return decimal.Zero
	}
	gain := penaltyAvoided.Add(laborCostAvoided).Sub(serviceCost)
	return gain.Div(serviceCost).Mul(decimal.NewFromInt(100)).Round(2)
}
