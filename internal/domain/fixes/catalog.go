// Package fixes maps finding categories to reversible invoice corrections.
package fixes

import (
	"fmt"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Strategy corrects one finding category. Apply is total over well-formed
// invoices and Invert(Apply(x)) restores x when applied to the corrected
// invoice.
type Strategy interface {
	Category() entity.FindingCategory
	Apply(inv *entity.Invoice) (entity.FieldDiff, error)
	Invert(diff entity.FieldDiff) entity.InvoiceFields
}

// RateLookup resolves the expected VAT rate for an invoice
type RateLookup interface {
	Expected(inv *entity.Invoice) (decimal.Decimal, bool)
}

// Catalog holds the strategy for every auto-fixable category
type Catalog struct {
	strategies map[entity.FindingCategory]Strategy
}

// NewCatalog builds the standard catalog
func NewCatalog(rates RateLookup) *Catalog {
	c := &Catalog{strategies: make(map[entity.FindingCategory]Strategy)}
	c.register(flagVATIDRequired{})
	c.register(applyReverseCharge{})
	c.register(recomputeTotal{})
	c.register(correctRate{rates: rates})
	return c
}

func (c *Catalog) register(s Strategy) {
	c.strategies[s.Category()] = s
}

// StrategyFor returns the strategy for category, if one exists
func (c *Catalog) StrategyFor(category entity.FindingCategory) (Strategy, bool) {
	s, ok := c.strategies[category]
	return s, ok
}

// Categories lists the categories that have a strategy
func (c *Catalog) Categories() []entity.FindingCategory {
	out := make([]entity.FindingCategory, 0, len(c.strategies))
	for category := range c.strategies {
		out = append(out, category)
	}
	return out
}

// invertToBefore is the shared inverse: restore the captured originals
type invertToBefore struct{}

func (invertToBefore) Invert(diff entity.FieldDiff) entity.InvoiceFields {
	return diff.Before
}

// diffFor captures the original value of every field set in after
func diffFor(inv *entity.Invoice, after entity.InvoiceFields) entity.FieldDiff {
	current := inv.Fields()
	var before entity.InvoiceFields
	if after.VATRate != nil {
		before.VATRate = current.VATRate
	}
	if after.VATAmount != nil {
		before.VATAmount = current.VATAmount
	}
	if after.TotalAmount != nil {
		before.TotalAmount = current.TotalAmount
	}
	if after.ReverseCharge != nil {
		before.ReverseCharge = current.ReverseCharge
	}
	if after.VATIDRequired != nil {
		before.VATIDRequired = current.VATIDRequired
	}
	return entity.FieldDiff{Before: before, After: after}
}

func boolPtr(b bool) *bool { return &b }

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// flagVATIDRequired marks the invoice as needing the customer's VAT id
type flagVATIDRequired struct{ invertToBefore }

func (flagVATIDRequired) Category() entity.FindingCategory {
	return entity.CategoryMissingVATID
}

func (flagVATIDRequired) Apply(inv *entity.Invoice) (entity.FieldDiff, error) {
	return diffFor(inv, entity.InvoiceFields{VATIDRequired: boolPtr(true)}), nil
}

// applyReverseCharge zero-rates the supply and shifts VAT to the customer
type applyReverseCharge struct{ invertToBefore }

func (applyReverseCharge) Category() entity.FindingCategory {
	return entity.CategoryReverseChargeMismatch
}

func (applyReverseCharge) Apply(inv *entity.Invoice) (entity.FieldDiff, error) {
	return diffFor(inv, entity.InvoiceFields{
		VATRate:       decPtr(decimal.Zero),
		VATAmount:     decPtr(decimal.Zero),
		TotalAmount:   decPtr(inv.NetAmount),
		ReverseCharge: boolPtr(true),
	}), nil
}

// recomputeTotal restates the total as net + VAT
type recomputeTotal struct{ invertToBefore }

func (recomputeTotal) Category() entity.FindingCategory {
	return entity.CategoryRoundingMismatch
}

func (recomputeTotal) Apply(inv *entity.Invoice) (entity.FieldDiff, error) {
	return diffFor(inv, entity.InvoiceFields{
		TotalAmount: decPtr(inv.NetAmount.Add(inv.VATAmount)),
	}), nil
}

// correctRate applies the expected rate and recomputes VAT and total
type correctRate struct {
	invertToBefore
	rates RateLookup
}

func (correctRate) Category() entity.FindingCategory {
	return entity.CategoryInvalidRateForCategory
}

func (s correctRate) Apply(inv *entity.Invoice) (entity.FieldDiff, error) {
	if s.rates == nil {
		return entity.FieldDiff{}, fmt.Errorf("no rate table configured")
	}
	rate, ok := s.rates.Expected(inv)
	if !ok {
		return entity.FieldDiff{}, fmt.Errorf("no expected VAT rate for invoice %s", inv.ID)
	}
	vat := inv.NetAmount.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
	return diffFor(inv, entity.InvoiceFields{
		VATRate:     decPtr(rate),
		VATAmount:   decPtr(vat),
		TotalAmount: decPtr(inv.NetAmount.Add(vat)),
	}), nil
}
