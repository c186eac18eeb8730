package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is an ingested tax-invoice snapshot. Detection reads it; only
// remediation writes the correction fields through InvoiceFields.
type Invoice struct {
	ID              string          `json:"id"`
	UploadID        string          `json:"upload_id"`
	CompanyID       string          `json:"company_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	IssueDate       time.Time       `json:"issue_date"`
	SupplierID      string          `json:"supplier_id"`
	SupplierVATID   string          `json:"supplier_vat_id,omitempty"`
	SupplierCountry string          `json:"supplier_country"`
	CustomerID      string          `json:"customer_id"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerVATID   string          `json:"customer_vat_id,omitempty"`
	CustomerCountry string          `json:"customer_country"`
	SupplyCategory  SupplyCategory  `json:"category"`
	ProductCategory string          `json:"product_category"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	VATRate         decimal.Decimal `json:"vat_rate"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ReverseCharge   bool            `json:"reverse_charge"`
	VATIDRequired   bool            `json:"vat_id_required"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsCrossBorderB2B reports whether the invoice is an intra-community B2B supply
func (i *Invoice) IsCrossBorderB2B() bool {
	return i.SupplyCategory == SupplyCrossBorderB2B
}

// Fields captures the current values of every correctable field
func (i *Invoice) Fields() InvoiceFields {
	vatRate, vatAmount, total := i.VATRate, i.VATAmount, i.TotalAmount
	reverse, required := i.ReverseCharge, i.VATIDRequired
	return InvoiceFields{
		VATRate:       &vatRate,
		VATAmount:     &vatAmount,
		TotalAmount:   &total,
		ReverseCharge: &reverse,
		VATIDRequired: &required,
	}
}

// WithFields returns a copy of the invoice with the set fields overwritten
func (i Invoice) WithFields(f InvoiceFields) Invoice {
	if f.VATRate != nil {
		i.VATRate = *f.VATRate
	}
	if f.VATAmount != nil {
		i.VATAmount = *f.VATAmount
	}
	if f.TotalAmount != nil {
		i.TotalAmount = *f.TotalAmount
	}
	if f.ReverseCharge != nil {
		i.ReverseCharge = *f.ReverseCharge
	}
	if f.VATIDRequired != nil {
		i.VATIDRequired = *f.VATIDRequired
	}
	return i
}

// InvoiceFields is a sparse set of correctable invoice fields. Nil means
// "not touched".
type InvoiceFields struct {
	VATRate       *decimal.Decimal `json:"vat_rate,omitempty"`
	VATAmount     *decimal.Decimal `json:"vat_amount,omitempty"`
	TotalAmount   *decimal.Decimal `json:"total_amount,omitempty"`
	ReverseCharge *bool            `json:"reverse_charge,omitempty"`
	VATIDRequired *bool            `json:"vat_id_required,omitempty"`
}

// IsEmpty reports whether no field is set
func (f InvoiceFields) IsEmpty() bool {
	return f.VATRate == nil && f.VATAmount == nil && f.TotalAmount == nil &&
		f.ReverseCharge == nil && f.VATIDRequired == nil
}

// FieldDiff records the before and after values of a correction. Before and
// After always set the same fields.
type FieldDiff struct {
	Before InvoiceFields `json:"before"`
	After  InvoiceFields `json:"after"`
}

// IsEmpty reports whether the diff changes nothing
func (d FieldDiff) IsEmpty() bool {
	return d.Before.IsEmpty() && d.After.IsEmpty()
}

// Overlaps reports whether both sets touch at least one common field
func (f InvoiceFields) Overlaps(other InvoiceFields) bool {
	return (f.VATRate != nil && other.VATRate != nil) ||
		(f.VATAmount != nil && other.VATAmount != nil) ||
		(f.TotalAmount != nil && other.TotalAmount != nil) ||
		(f.ReverseCharge != nil && other.ReverseCharge != nil) ||
		(f.VATIDRequired != nil && other.VATIDRequired != nil)
}

// Changes reports whether applying After alters any field of Before
func (d FieldDiff) Changes() bool {
	return !decEqual(d.Before.VATRate, d.After.VATRate) ||
		!decEqual(d.Before.VATAmount, d.After.VATAmount) ||
		!decEqual(d.Before.TotalAmount, d.After.TotalAmount) ||
		!boolEqual(d.Before.ReverseCharge, d.After.ReverseCharge) ||
		!boolEqual(d.Before.VATIDRequired, d.After.VATIDRequired)
}

func decEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func boolEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
