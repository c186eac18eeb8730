package rules

import (
	"strings"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// RateTable resolves the VAT rate an invoice should carry
type RateTable struct {
	rates map[string]map[string]decimal.Decimal
}

// NewRateTable converts configured percentages to decimals
func NewRateTable(rates map[string]map[string]float64) *RateTable {
	t := &RateTable{rates: make(map[string]map[string]decimal.Decimal, len(rates))}
	for country, byProduct := range rates {
		row := make(map[string]decimal.Decimal, len(byProduct))
		for product, rate := range byProduct {
			row[product] = decimal.NewFromFloat(rate)
		}
		t.rates[strings.ToUpper(country)] = row
	}
	return t
}

// Expected returns the rate for the invoice's taxing country and product
// category. Domestic supplies are taxed where the supplier is, B2C cross-border
// supplies where the customer is. Cross-border B2B is reverse-charged and has
// no expected rate here. Unknown products fall back to the standard rate.
func (t *RateTable) Expected(inv *entity.Invoice) (decimal.Decimal, bool) {
	var country string
	switch inv.SupplyCategory {
	case entity.SupplyDomestic:
		country = inv.SupplierCountry
	case entity.SupplyCrossBorderB2C:
		country = inv.CustomerCountry
	default:
		return decimal.Zero, false
	}

	row, ok := t.rates[strings.ToUpper(country)]
	if !ok {
		return decimal.Zero, false
	}
	if rate, ok := row[inv.ProductCategory]; ok {
		return rate, true
	}
	rate, ok := row[entity.ProductStandard]
	return rate, ok
}
