// Package rules evaluates deterministic VAT compliance rules against a single
// invoice. Evaluation is pure: no I/O, no clock, no randomness.
package rules

import (
	"fmt"
	"strings"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Rule is one entry of the ordered catalog
type Rule struct {
	Category    entity.FindingCategory
	Severity    entity.Severity
	AutoFixable bool
	// AmountBased rules are skipped for zero-amount invoices
	AmountBased bool
	check       func(e *Engine, inv *entity.Invoice) (string, bool)
}

// Engine evaluates the rule catalog
type Engine struct {
	rules      []Rule
	rates      *RateTable
	tolerance  decimal.Decimal
	penaltyCap decimal.Decimal
	penalties  map[entity.FindingCategory]PenaltyRule
}

// NewEngine creates a rule engine from configuration
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		rules:      catalog(),
		rates:      NewRateTable(cfg.Rates),
		tolerance:  decimal.NewFromFloat(cfg.RoundingTolerance),
		penaltyCap: decimal.NewFromFloat(cfg.PenaltyCap),
		penalties:  cfg.Penalties,
	}
}

// Rules returns the catalog in evaluation order
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Rates exposes the rate table used by the invalid-rate rule
func (e *Engine) Rates() *RateTable {
	return e.rates
}

// Evaluate returns at most one candidate per rule, in catalog order.
// A malformed invoice yields an error and no candidates.
func (e *Engine) Evaluate(inv *entity.Invoice) ([]entity.Candidate, error) {
	if err := validateInvoice(inv); err != nil {
		return nil, err
	}

	zeroAmount := inv.NetAmount.IsZero()
	var out []entity.Candidate
	for _, r := range e.rules {
		if r.AmountBased && zeroAmount {
			continue
		}
		msg, hit := r.check(e, inv)
		if !hit {
			continue
		}
		out = append(out, entity.Candidate{
			InvoiceID:   inv.ID,
			Category:    r.Category,
			Severity:    r.Severity,
			Message:     msg,
			PenaltyRisk: e.PenaltyRisk(r.Category, inv.NetAmount),
			AutoFixable: r.AutoFixable,
		})
	}
	return out, nil
}

// PenaltyRisk computes base + net × rate for the category, capped and
// rounded to cents.
func (e *Engine) PenaltyRisk(category entity.FindingCategory, net decimal.Decimal) decimal.Decimal {
	p := e.penalties[category]
	risk := decimal.NewFromFloat(p.Base).Add(net.Abs().Mul(decimal.NewFromFloat(p.Rate)))
	if risk.GreaterThan(e.penaltyCap) {
		risk = e.penaltyCap
	}
	return risk.Round(2)
}

func validateInvoice(inv *entity.Invoice) error {
	if inv == nil {
		return fmt.Errorf("invoice is nil")
	}
	if strings.TrimSpace(inv.ID) == "" {
		return fmt.Errorf("invoice id is required")
	}
	if !inv.SupplyCategory.IsValid() {
		return fmt.Errorf("invoice %s: unknown supply category %q", inv.ID, inv.SupplyCategory)
	}
	if inv.NetAmount.IsNegative() || inv.VATAmount.IsNegative() || inv.TotalAmount.IsNegative() {
		return fmt.Errorf("invoice %s: amounts must not be negative", inv.ID)
	}
	if inv.VATRate.IsNegative() || inv.VATRate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("invoice %s: VAT rate %s out of range", inv.ID, inv.VATRate)
	}
	return nil
}
