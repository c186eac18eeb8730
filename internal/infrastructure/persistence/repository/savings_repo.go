package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const savingsColumns = `
	company_id, period, penalty_avoided_cents, labor_cost_avoided_cents,
	auto_fixes, manual_fixes, updated_at`

// SavingsRepository implements port.SavingsRepository
type SavingsRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewSavingsRepository creates a new savings repository
func NewSavingsRepository(db *sqlite.DB, logger *zap.Logger) port.SavingsRepository {
	return &SavingsRepository{
		db:     db,
		logger: logger,
	}
}

// Apply creates the (company, period) row on first use and adds delta to it.
// Every balance is floored at zero.
func (r *SavingsRepository) Apply(ctx context.Context, companyID, period string, delta entity.SavingsDelta) error {
	query := `
		INSERT INTO savings_snapshots (` + savingsColumns + `)
		VALUES (?1, ?2, MAX(0, ?3), MAX(0, ?4), MAX(0, ?5), MAX(0, ?6), ?7)
		ON CONFLICT(company_id, period) DO UPDATE SET
			penalty_avoided_cents = MAX(0, penalty_avoided_cents + ?3),
			labor_cost_avoided_cents = MAX(0, labor_cost_avoided_cents + ?4),
			auto_fixes = MAX(0, auto_fixes + ?5),
			manual_fixes = MAX(0, manual_fixes + ?6),
			updated_at = ?7`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		companyID,
		period,
		toCents(delta.PenaltyAvoided),
		toCents(delta.LaborCostAvoided),
		delta.AutoFixes,
		delta.ManualFixes,
		time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to apply savings delta",
			zap.String("company_id", companyID),
			zap.String("period", period),
			zap.String("penalty_delta", delta.PenaltyAvoided.String()),
			zap.Error(err))
		return fmt.Errorf("failed to apply savings delta: %w", err)
	}

	return nil
}

// Get returns the snapshot of one period, or nil if none exists
func (r *SavingsRepository) Get(ctx context.Context, companyID, period string) (*entity.SavingsSnapshot, error) {
	query := `SELECT ` + savingsColumns + ` FROM savings_snapshots
		WHERE company_id = ? AND period = ?`

	s, err := scanSnapshot(r.db.Executor(ctx).QueryRowContext(ctx, query, companyID, period))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get savings snapshot",
			zap.String("company_id", companyID),
			zap.String("period", period),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get savings snapshot: %w", err)
	}

	return s, nil
}

// ListByCompany returns every period of a company, oldest first
func (r *SavingsRepository) ListByCompany(ctx context.Context, companyID string) ([]*entity.SavingsSnapshot, error) {
	query := `SELECT ` + savingsColumns + ` FROM savings_snapshots
		WHERE company_id = ?
		ORDER BY period`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list savings snapshots",
			zap.String("company_id", companyID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list savings snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*entity.SavingsSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan savings snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

func scanSnapshot(row rowScanner) (*entity.SavingsSnapshot, error) {
	var s entity.SavingsSnapshot
	var penalty, labor int64

	err := row.Scan(
		&s.CompanyID,
		&s.Period,
		&penalty,
		&labor,
		&s.AutoFixes,
		&s.ManualFixes,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.PenaltyAvoided = fromCents(penalty)
	s.LaborCostAvoided = fromCents(labor)
	s.TotalSavings = s.PenaltyAvoided.Add(s.LaborCostAvoided)

	return &s, nil
}

var _ port.SavingsRepository = (*SavingsRepository)(nil)
