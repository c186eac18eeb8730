package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
)

var vatIDPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{2,12}$`)

// catalog returns the rules in presentation order. Order never changes which
// candidates are produced.
func catalog() []Rule {
	return []Rule{
		{
			Category:    entity.CategoryMissingVATID,
			Severity:    entity.SeverityCritical,
			AutoFixable: true,
			check:       checkMissingVATID,
		},
		{
			Category:    entity.CategoryReverseChargeMismatch,
			Severity:    entity.SeverityHigh,
			AutoFixable: true,
			AmountBased: true,
			check:       checkReverseCharge,
		},
		{
			Category:    entity.CategoryRoundingMismatch,
			Severity:    entity.SeverityMedium,
			AutoFixable: true,
			AmountBased: true,
			check:       checkRounding,
		},
		{
			Category:    entity.CategoryInvalidRateForCategory,
			Severity:    entity.SeverityHigh,
			AutoFixable: true,
			AmountBased: true,
			check:       checkRateForCategory,
		},
		{
			Category: entity.CategoryInvalidVATIDFormat,
			Severity: entity.SeverityLow,
			check:    checkVATIDFormat,
		},
	}
}

func checkMissingVATID(_ *Engine, inv *entity.Invoice) (string, bool) {
	if !inv.IsCrossBorderB2B() || inv.VATIDRequired {
		return "", false
	}
	if strings.TrimSpace(inv.CustomerVATID) != "" {
		return "", false
	}
	return "missing VAT id for cross-border B2B", true
}

func checkReverseCharge(_ *Engine, inv *entity.Invoice) (string, bool) {
	if !inv.IsCrossBorderB2B() || strings.TrimSpace(inv.CustomerVATID) == "" {
		return "", false
	}
	if inv.VATRate.IsZero() && inv.VATAmount.IsZero() && inv.ReverseCharge {
		return "", false
	}
	return fmt.Sprintf("VAT rate %s%% charged on cross-border B2B supply to %s; reverse charge applies",
		inv.VATRate.String(), inv.CustomerCountry), true
}

func checkRounding(e *Engine, inv *entity.Invoice) (string, bool) {
	diff := inv.NetAmount.Add(inv.VATAmount).Sub(inv.TotalAmount).Abs()
	if diff.LessThanOrEqual(e.tolerance) {
		return "", false
	}
	return fmt.Sprintf("net %s + VAT %s differs from stated total %s by %s",
		inv.NetAmount.StringFixed(2), inv.VATAmount.StringFixed(2),
		inv.TotalAmount.StringFixed(2), diff.StringFixed(2)), true
}

func checkRateForCategory(e *Engine, inv *entity.Invoice) (string, bool) {
	expected, ok := e.rates.Expected(inv)
	if !ok || inv.VATRate.Equal(expected) {
		return "", false
	}
	product := inv.ProductCategory
	if product == "" {
		product = entity.ProductStandard
	}
	return fmt.Sprintf("VAT rate %s%% invalid for %s; expected %s%%",
		inv.VATRate.String(), product, expected.String()), true
}

func checkVATIDFormat(_ *Engine, inv *entity.Invoice) (string, bool) {
	id := NormalizeVATID(inv.CustomerVATID)
	if id == "" {
		return "", false
	}
	if ValidVATID(id, inv.CustomerCountry) {
		return "", false
	}
	return fmt.Sprintf("customer VAT id %q is not a valid %s VAT number", id, strings.ToUpper(inv.CustomerCountry)), true
}

// NormalizeVATID uppercases and strips separators
func NormalizeVATID(id string) string {
	r := strings.NewReplacer(" ", "", "-", "", ".", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(id)))
}

// ValidVATID checks the shape of a normalized VAT id and that its prefix
// matches the country (Greece uses EL).
func ValidVATID(id, country string) bool {
	if !vatIDPattern.MatchString(id) {
		return false
	}
	prefix := strings.ToUpper(country)
	if prefix == "GR" {
		prefix = "EL"
	}
	return prefix == "" || strings.HasPrefix(id, prefix)
}
