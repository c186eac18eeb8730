package fixes

import (
	"testing"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/rules"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertSameInvoice(t *testing.T, want, got entity.Invoice) {
	t.Helper()
	assert.True(t, want.VATRate.Equal(got.VATRate), "vat_rate: want %s got %s", want.VATRate, got.VATRate)
	assert.True(t, want.VATAmount.Equal(got.VATAmount), "vat_amount: want %s got %s", want.VATAmount, got.VATAmount)
	assert.True(t, want.TotalAmount.Equal(got.TotalAmount), "total: want %s got %s", want.TotalAmount, got.TotalAmount)
	assert.True(t, want.NetAmount.Equal(got.NetAmount))
	assert.Equal(t, want.ReverseCharge, got.ReverseCharge)
	assert.Equal(t, want.VATIDRequired, got.VATIDRequired)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.CustomerVATID, got.CustomerVATID)
}

// samples returns well-formed invoices that trigger each category
func samples() map[entity.FindingCategory][]entity.Invoice {
	return map[entity.FindingCategory][]entity.Invoice{
		entity.CategoryMissingVATID: {
			{ID: "a1", SupplyCategory: entity.SupplyCrossBorderB2B, CustomerCountry: "DE", NetAmount: dec("1000"), TotalAmount: dec("1000")},
			{ID: "a2", SupplyCategory: entity.SupplyCrossBorderB2B, CustomerCountry: "FR", NetAmount: dec("0"), VATRate: dec("20"), VATAmount: dec("0")},
		},
		entity.CategoryReverseChargeMismatch: {
			{ID: "b1", SupplyCategory: entity.SupplyCrossBorderB2B, CustomerVATID: "FR123456789", NetAmount: dec("2000"), VATRate: dec("19"), VATAmount: dec("380"), TotalAmount: dec("2380")},
			{ID: "b2", SupplyCategory: entity.SupplyCrossBorderB2B, CustomerVATID: "NL123456789B01", NetAmount: dec("99.99"), VATRate: dec("0"), VATAmount: dec("0"), TotalAmount: dec("99.99")},
		},
		entity.CategoryRoundingMismatch: {
			{ID: "c1", SupplyCategory: entity.SupplyDomestic, NetAmount: dec("100"), VATRate: dec("19"), VATAmount: dec("19"), TotalAmount: dec("120")},
			{ID: "c2", SupplyCategory: entity.SupplyDomestic, NetAmount: dec("0.10"), VATRate: dec("7"), VATAmount: dec("0.01"), TotalAmount: dec("0")},
		},
		entity.CategoryInvalidRateForCategory: {
			{ID: "d1", SupplyCategory: entity.SupplyDomestic, SupplierCountry: "DE", ProductCategory: entity.ProductBooks, NetAmount: dec("1000"), VATRate: dec("19"), VATAmount: dec("190"), TotalAmount: dec("1190")},
			{ID: "d2", SupplyCategory: entity.SupplyCrossBorderB2C, CustomerCountry: "FR", ProductCategory: entity.ProductFood, NetAmount: dec("33.33"), VATRate: dec("20"), VATAmount: dec("6.67"), TotalAmount: dec("40")},
		},
	}
}

func newCatalog() *Catalog {
	return NewCatalog(rules.NewEngine(nil).Rates())
}

func TestCatalog_RoundTrip(t *testing.T) {
	c := newCatalog()

	for category, invoices := range samples() {
		s, ok := c.StrategyFor(category)
		require.True(t, ok, "no strategy for %s", category)

		for _, original := range invoices {
			t.Run(string(category)+"/"+original.ID, func(t *testing.T) {
				diff, err := s.Apply(&original)
				require.NoError(t, err)

				corrected := original.WithFields(diff.After)
				restored := corrected.WithFields(s.Invert(diff))

				assertSameInvoice(t, original, restored)
			})
		}
	}
}

func TestCatalog_AppliedInvoiceNoLongerTriggersRule(t *testing.T) {
	c := newCatalog()
	engine := rules.NewEngine(nil)

	for category, invoices := range samples() {
		s, _ := c.StrategyFor(category)
		for _, original := range invoices {
			t.Run(string(category)+"/"+original.ID, func(t *testing.T) {
				diff, err := s.Apply(&original)
				require.NoError(t, err)
				corrected := original.WithFields(diff.After)

				cands, err := engine.Evaluate(&corrected)
				require.NoError(t, err)
				for _, cand := range cands {
					assert.NotEqual(t, category, cand.Category)
				}
			})
		}
	}
}

func TestCatalog_DiffTouchesSameFields(t *testing.T) {
	c := newCatalog()

	for category, invoices := range samples() {
		s, _ := c.StrategyFor(category)
		diff, err := s.Apply(&invoices[0])
		require.NoError(t, err)

		assert.Equal(t, diff.After.VATRate != nil, diff.Before.VATRate != nil, category)
		assert.Equal(t, diff.After.VATAmount != nil, diff.Before.VATAmount != nil, category)
		assert.Equal(t, diff.After.TotalAmount != nil, diff.Before.TotalAmount != nil, category)
		assert.Equal(t, diff.After.ReverseCharge != nil, diff.Before.ReverseCharge != nil, category)
		assert.Equal(t, diff.After.VATIDRequired != nil, diff.Before.VATIDRequired != nil, category)
		assert.False(t, diff.IsEmpty(), category)
	}
}

func TestCatalog_NoStrategyForVATIDFormat(t *testing.T) {
	_, ok := newCatalog().StrategyFor(entity.CategoryInvalidVATIDFormat)
	assert.False(t, ok)
	assert.Len(t, newCatalog().Categories(), 4)
}

func TestCatalog_ApplyDoesNotMutateInput(t *testing.T) {
	c := newCatalog()
	inv := samples()[entity.CategoryReverseChargeMismatch][0]
	before := inv

	s, _ := c.StrategyFor(entity.CategoryReverseChargeMismatch)
	_, err := s.Apply(&inv)
	require.NoError(t, err)

	assertSameInvoice(t, before, inv)
}

func TestCorrectRate_ComputesVAT(t *testing.T) {
	c := newCatalog()
	s, _ := c.StrategyFor(entity.CategoryInvalidRateForCategory)

	inv := samples()[entity.CategoryInvalidRateForCategory][0]
	diff, err := s.Apply(&inv)
	require.NoError(t, err)

	assert.True(t, diff.After.VATRate.Equal(dec("7")))
	assert.True(t, diff.After.VATAmount.Equal(dec("70")))
	assert.True(t, diff.After.TotalAmount.Equal(dec("1070")))
	assert.True(t, diff.Before.VATRate.Equal(dec("19")))
}

func TestCorrectRate_UnknownCountry(t *testing.T) {
	c := newCatalog()
	s, _ := c.StrategyFor(entity.CategoryInvalidRateForCategory)

	inv := entity.Invoice{ID: "x", SupplyCategory: entity.SupplyDomestic, SupplierCountry: "CH", NetAmount: dec("10")}
	_, err := s.Apply(&inv)
	assert.Error(t, err)
}
