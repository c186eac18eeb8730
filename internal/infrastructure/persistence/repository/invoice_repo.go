package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const invoiceColumns = `
	id, upload_id, company_id, invoice_number, issue_date,
	supplier_id, supplier_vat_id, supplier_country,
	customer_id, customer_name, customer_vat_id, customer_country,
	supply_category, product_category,
	net_amount_cents, vat_rate, vat_amount_cents, total_amount_cents,
	reverse_charge, vat_id_required, created_at, updated_at`

// InvoiceRepository implements port.InvoiceRepository
type InvoiceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sqlite.DB, logger *zap.Logger) port.InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an invoice snapshot
func (r *InvoiceRepository) Create(ctx context.Context, inv *entity.Invoice) error {
	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = inv.CreatedAt

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		inv.ID,
		inv.UploadID,
		inv.CompanyID,
		inv.InvoiceNumber,
		nullableTime(&inv.IssueDate),
		inv.SupplierID,
		inv.SupplierVATID,
		inv.SupplierCountry,
		inv.CustomerID,
		inv.CustomerName,
		inv.CustomerVATID,
		inv.CustomerCountry,
		string(inv.SupplyCategory),
		inv.ProductCategory,
		toCents(inv.NetAmount),
		inv.VATRate.String(),
		toCents(inv.VATAmount),
		toCents(inv.TotalAmount),
		boolToInt(inv.ReverseCharge),
		boolToInt(inv.VATIDRequired),
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create invoice",
			zap.String("invoice_id", inv.ID),
			zap.String("upload_id", inv.UploadID),
			zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	return nil
}

// GetByID retrieves an invoice by its ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ?`

	inv, err := scanInvoice(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice by ID",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	return inv, nil
}

// ListByUpload returns the invoices of an upload in insertion order
func (r *InvoiceRepository) ListByUpload(ctx context.Context, uploadID string) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE upload_id = ? ORDER BY rowid`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, uploadID)
	if err != nil {
		r.logger.Error("Failed to list invoices by upload",
			zap.String("upload_id", uploadID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}

	return invoices, rows.Err()
}

// UpdateFields writes the set correction fields of an invoice
func (r *InvoiceRepository) UpdateFields(ctx context.Context, id string, fields entity.InvoiceFields) error {
	if fields.IsEmpty() {
		return nil
	}

	var sets []string
	var args []interface{}
	if fields.VATRate != nil {
		sets = append(sets, "vat_rate = ?")
		args = append(args, fields.VATRate.String())
	}
	if fields.VATAmount != nil {
		sets = append(sets, "vat_amount_cents = ?")
		args = append(args, toCents(*fields.VATAmount))
	}
	if fields.TotalAmount != nil {
		sets = append(sets, "total_amount_cents = ?")
		args = append(args, toCents(*fields.TotalAmount))
	}
	if fields.ReverseCharge != nil {
		sets = append(sets, "reverse_charge = ?")
		args = append(args, boolToInt(*fields.ReverseCharge))
	}
	if fields.VATIDRequired != nil {
		sets = append(sets, "vat_id_required = ?")
		args = append(args, boolToInt(*fields.VATIDRequired))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := `UPDATE invoices SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update invoice fields",
			zap.String("id", id),
			zap.Error(err))
		return fmt.Errorf("failed to update invoice fields: %w", err)
	}

	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("failed to update invoice fields: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to update invoice fields: invoice %s not found", id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var inv entity.Invoice
	var issueDate sql.NullTime
	var supplyCategory, vatRate string
	var net, vat, total int64
	var reverse, required int

	err := row.Scan(
		&inv.ID,
		&inv.UploadID,
		&inv.CompanyID,
		&inv.InvoiceNumber,
		&issueDate,
		&inv.SupplierID,
		&inv.SupplierVATID,
		&inv.SupplierCountry,
		&inv.CustomerID,
		&inv.CustomerName,
		&inv.CustomerVATID,
		&inv.CustomerCountry,
		&supplyCategory,
		&inv.ProductCategory,
		&net,
		&vatRate,
		&vat,
		&total,
		&reverse,
		&required,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rate, err := decimal.NewFromString(vatRate)
	if err != nil {
		return nil, fmt.Errorf("invalid stored vat_rate %q: %w", vatRate, err)
	}

	if issueDate.Valid {
		inv.IssueDate = issueDate.Time
	}
	inv.SupplyCategory = entity.SupplyCategory(supplyCategory)
	inv.NetAmount = fromCents(net)
	inv.VATRate = rate
	inv.VATAmount = fromCents(vat)
	inv.TotalAmount = fromCents(total)
	inv.ReverseCharge = reverse != 0
	inv.VATIDRequired = required != 0

	return &inv, nil
}

var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
