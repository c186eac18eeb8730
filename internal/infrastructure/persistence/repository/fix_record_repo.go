package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const fixRecordColumns = `
	id, finding_id, invoice_id, company_id, actor_id, kind, diff, note,
	penalty_avoided_cents, labor_cost_avoided_cents, savings_amount_cents,
	period, applied_at, undone_at, undone_by`

// FixRecordRepository implements port.FixRecordRepository
type FixRecordRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewFixRecordRepository creates a new fix record repository
func NewFixRecordRepository(db *sqlite.DB, logger *zap.Logger) port.FixRecordRepository {
	return &FixRecordRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a fix record
func (r *FixRecordRepository) Create(ctx context.Context, rec *entity.FixRecord) error {
	query := `INSERT INTO fix_records (` + fixRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	diff, err := json.Marshal(rec.Diff)
	if err != nil {
		return fmt.Errorf("failed to marshal fix diff: %w", err)
	}

	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		rec.ID,
		rec.FindingID,
		rec.InvoiceID,
		rec.CompanyID,
		rec.ActorID,
		string(rec.Kind),
		string(diff),
		rec.Note,
		toCents(rec.PenaltyAvoided),
		toCents(rec.LaborCostAvoided),
		toCents(rec.SavingsAmount),
		rec.Period,
		rec.AppliedAt.UTC(),
		nullableTime(rec.UndoneAt),
		rec.UndoneBy,
	)
	if err != nil {
		r.logger.Error("Failed to create fix record",
			zap.String("finding_id", rec.FindingID),
			zap.Bool("duplicate_active", isUniqueViolation(err)),
			zap.Error(err))
		return fmt.Errorf("failed to create fix record: %w", err)
	}

	return nil
}

// GetByID retrieves a fix record by ID
func (r *FixRecordRepository) GetByID(ctx context.Context, id string) (*entity.FixRecord, error) {
	query := `SELECT ` + fixRecordColumns + ` FROM fix_records WHERE id = ?`

	rec, err := scanFixRecord(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get fix record by ID",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get fix record: %w", err)
	}

	return rec, nil
}

// ListByFinding returns the audit trail of a finding in applied order
func (r *FixRecordRepository) ListByFinding(ctx context.Context, findingID string) ([]*entity.FixRecord, error) {
	query := `SELECT ` + fixRecordColumns + ` FROM fix_records
		WHERE finding_id = ?
		ORDER BY applied_at, rowid`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, findingID)
	if err != nil {
		r.logger.Error("Failed to list fix records",
			zap.String("finding_id", findingID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list fix records: %w", err)
	}
	defer rows.Close()

	var records []*entity.FixRecord
	for rows.Next() {
		rec, err := scanFixRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fix record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ListActiveByInvoice returns the fixes of an invoice that are not undone,
// in applied order
func (r *FixRecordRepository) ListActiveByInvoice(ctx context.Context, invoiceID string) ([]*entity.FixRecord, error) {
	query := `SELECT ` + fixRecordColumns + ` FROM fix_records
		WHERE invoice_id = ? AND undone_at IS NULL
		ORDER BY applied_at, rowid`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to list active fix records",
			zap.String("invoice_id", invoiceID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list active fix records: %w", err)
	}
	defer rows.Close()

	var records []*entity.FixRecord
	for rows.Next() {
		rec, err := scanFixRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fix record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// MarkUndone stamps the undo exactly once
func (r *FixRecordRepository) MarkUndone(ctx context.Context, id, actorID string, at time.Time) (bool, error) {
	query := `UPDATE fix_records SET undone_at = ?, undone_by = ?
		WHERE id = ? AND undone_at IS NULL`

	res, err := r.db.Executor(ctx).ExecContext(ctx, query, at.UTC(), actorID, id)
	if err != nil {
		r.logger.Error("Failed to mark fix record undone",
			zap.String("id", id),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark fix record undone: %w", err)
	}

	won, err := affected(res)
	if err != nil {
		return false, fmt.Errorf("failed to mark fix record undone: %w", err)
	}
	return won, nil
}

func scanFixRecord(row rowScanner) (*entity.FixRecord, error) {
	var rec entity.FixRecord
	var kind, diff string
	var penalty, labor, savings int64
	var undoneAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.FindingID,
		&rec.InvoiceID,
		&rec.CompanyID,
		&rec.ActorID,
		&kind,
		&diff,
		&rec.Note,
		&penalty,
		&labor,
		&savings,
		&rec.Period,
		&rec.AppliedAt,
		&undoneAt,
		&rec.UndoneBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(diff), &rec.Diff); err != nil {
		return nil, fmt.Errorf("invalid stored diff: %w", err)
	}

	rec.Kind = entity.FixKind(kind)
	rec.PenaltyAvoided = fromCents(penalty)
	rec.LaborCostAvoided = fromCents(labor)
	rec.SavingsAmount = fromCents(savings)
	rec.UndoneAt = timePtr(undoneAt)

	return &rec, nil
}

var _ port.FixRecordRepository = (*FixRecordRepository)(nil)
