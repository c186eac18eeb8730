package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const findingColumns = `
	id, upload_id, company_id, invoice_id, category, severity, message,
	penalty_risk_cents, auto_fixable, resolved, status, advisory,
	created_at, resolved_at`

// invoiceBatchSize bounds the IN list of ListByInvoices
const invoiceBatchSize = 500

// FindingRepository implements port.FindingRepository
type FindingRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewFindingRepository creates a new finding repository
func NewFindingRepository(db *sqlite.DB, logger *zap.Logger) port.FindingRepository {
	return &FindingRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a finding unless its (invoice, category) already exists
func (r *FindingRepository) Create(ctx context.Context, f *entity.Finding) (bool, error) {
	query := `INSERT INTO findings (` + findingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(invoice_id, category) DO NOTHING`

	advisory, err := marshalAdvisory(f.Advisory)
	if err != nil {
		return false, err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.Executor(ctx).ExecContext(ctx, query,
		f.ID,
		f.UploadID,
		f.CompanyID,
		f.InvoiceID,
		string(f.Category),
		string(f.Severity),
		f.Message,
		toCents(f.PenaltyRisk),
		boolToInt(f.AutoFixable),
		boolToInt(f.Resolved),
		string(f.Status),
		advisory,
		f.CreatedAt,
		nullableTime(f.ResolvedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create finding",
			zap.String("invoice_id", f.InvoiceID),
			zap.String("category", string(f.Category)),
			zap.Error(err))
		return false, fmt.Errorf("failed to create finding: %w", err)
	}

	created, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("failed to create finding: %w", err)
	}
	return created, nil
}

// GetByID retrieves a finding by ID
func (r *FindingRepository) GetByID(ctx context.Context, id string) (*entity.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings WHERE id = ?`

	f, err := scanFinding(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get finding by ID",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}

	return f, nil
}

// List returns findings matching filter in creation order
func (r *FindingRepository) List(ctx context.Context, filter entity.FindingFilter) ([]*entity.Finding, error) {
	var where []string
	var args []interface{}

	if filter.UploadID != "" {
		where = append(where, "upload_id = ?")
		args = append(args, filter.UploadID)
	}
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.InvoiceID != "" {
		where = append(where, "invoice_id = ?")
		args = append(args, filter.InvoiceID)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Resolved != nil {
		where = append(where, "resolved = ?")
		args = append(args, boolToInt(*filter.Resolved))
	}

	query := `SELECT ` + findingColumns + ` FROM findings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, rowid`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	return r.query(ctx, query, args...)
}

// ListByInvoices returns every finding of the given invoices in insertion order
func (r *FindingRepository) ListByInvoices(ctx context.Context, invoiceIDs []string) ([]*entity.Finding, error) {
	var out []*entity.Finding

	for start := 0; start < len(invoiceIDs); start += invoiceBatchSize {
		end := start + invoiceBatchSize
		if end > len(invoiceIDs) {
			end = len(invoiceIDs)
		}
		batch := invoiceIDs[start:end]

		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		query := `SELECT ` + findingColumns + ` FROM findings
			WHERE invoice_id IN (` + placeholders(len(batch)) + `)
			ORDER BY rowid`

		found, err := r.query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	return out, nil
}

// TransitionStatus performs the compare-and-set status change. Resolved
// follows the target status: only fixed findings are resolved.
func (r *FindingRepository) TransitionStatus(ctx context.Context, id string, from, to entity.FindingStatus, at time.Time) (bool, error) {
	var resolvedAt interface{}
	resolved := to == entity.FindingStatusFixed
	if resolved {
		resolvedAt = at.UTC()
	}

	query := `UPDATE findings SET status = ?, resolved = ?, resolved_at = ?
		WHERE id = ? AND status = ?`

	res, err := r.db.Executor(ctx).ExecContext(ctx, query,
		string(to), boolToInt(resolved), resolvedAt, id, string(from))
	if err != nil {
		r.logger.Error("Failed to transition finding",
			zap.String("id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Error(err))
		return false, fmt.Errorf("failed to transition finding: %w", err)
	}

	won, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("failed to transition finding: %w", err)
	}
	return won, nil
}

// CountUnresolvedBySeverity counts open findings of a company per severity
func (r *FindingRepository) CountUnresolvedBySeverity(ctx context.Context, companyID string) (map[entity.Severity]int, error) {
	query := `SELECT severity, COUNT(*) FROM findings
		WHERE company_id = ? AND status = ?
		GROUP BY severity`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, companyID, string(entity.FindingStatusOpen))
	if err != nil {
		r.logger.Error("Failed to count unresolved findings",
			zap.String("company_id", companyID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.Severity]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("failed to scan finding count: %w", err)
		}
		counts[entity.Severity(severity)] = n
	}

	return counts, rows.Err()
}

func (r *FindingRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Finding, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list findings", zap.Error(err))
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*entity.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}

	return findings, rows.Err()
}

func scanFinding(row rowScanner) (*entity.Finding, error) {
	var f entity.Finding
	var category, severity, status string
	var penalty int64
	var autoFixable, resolved int
	var advisory sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&f.ID,
		&f.UploadID,
		&f.CompanyID,
		&f.InvoiceID,
		&category,
		&severity,
		&f.Message,
		&penalty,
		&autoFixable,
		&resolved,
		&status,
		&advisory,
		&f.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Category = entity.FindingCategory(category)
	f.Severity = entity.Severity(severity)
	f.Status = entity.FindingStatus(status)
	f.PenaltyRisk = fromCents(penalty)
	f.AutoFixable = autoFixable != 0
	f.Resolved = resolved != 0
	f.ResolvedAt = timePtr(resolvedAt)

	if advisory.Valid && advisory.String != "" {
		var a entity.Advisory
		if err := json.Unmarshal([]byte(advisory.String), &a); err != nil {
			return nil, fmt.Errorf("invalid stored advisory: %w", err)
		}
		f.Advisory = &a
	}

	return &f, nil
}

func marshalAdvisory(a *entity.Advisory) (interface{}, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal advisory: %w", err)
	}
	return string(data), nil
}

var _ port.FindingRepository = (*FindingRepository)(nil)
