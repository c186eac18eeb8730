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

const uploadColumns = `
	id, company_id, source_name, invoice_count, status, use_advisory,
	findings_count, anomaly_count, error, created_at, started_at, completed_at`

// UploadRepository implements port.UploadRepository
type UploadRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewUploadRepository creates a new upload repository
func NewUploadRepository(db *sqlite.DB, logger *zap.Logger) port.UploadRepository {
	return &UploadRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an upload
func (r *UploadRepository) Create(ctx context.Context, u *entity.Upload) error {
	query := `INSERT INTO uploads (` + uploadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		u.ID,
		u.CompanyID,
		u.SourceName,
		u.InvoiceCount,
		string(u.Status),
		boolToInt(u.UseAdvisory),
		u.FindingsCount,
		u.AnomalyCount,
		u.Error,
		u.CreatedAt,
		nullableTime(u.StartedAt),
		nullableTime(u.CompletedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create upload",
			zap.String("company_id", u.CompanyID),
			zap.Error(err))
		return fmt.Errorf("failed to create upload: %w", err)
	}

	return nil
}

// GetByID retrieves an upload by ID
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*entity.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = ?`

	u, err := scanUpload(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get upload by ID",
			zap.String("id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}

	return u, nil
}

// ListByStatus returns uploads in a status, oldest first
func (r *UploadRepository) ListByStatus(ctx context.Context, status entity.UploadStatus, limit int) ([]*entity.Upload, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + uploadColumns + ` FROM uploads
		WHERE status = ?
		ORDER BY created_at, rowid
		LIMIT ?`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, string(status), limit)
	if err != nil {
		r.logger.Error("Failed to list uploads by status",
			zap.String("status", string(status)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*entity.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}

	return uploads, rows.Err()
}

// Enqueue queues an upload that is not already queued or processing
func (r *UploadRepository) Enqueue(ctx context.Context, id string, useAdvisory bool) (bool, error) {
	query := `UPDATE uploads SET status = ?, use_advisory = ?, error = ''
		WHERE id = ? AND status IN (?, ?, ?)`

	res, err := r.db.Executor(ctx).ExecContext(ctx, query,
		string(entity.UploadStatusQueued),
		boolToInt(useAdvisory),
		id,
		string(entity.UploadStatusPending),
		string(entity.UploadStatusCompleted),
		string(entity.UploadStatusFailed),
	)
	if err != nil {
		r.logger.Error("Failed to enqueue upload",
			zap.String("id", id),
			zap.Error(err))
		return false, fmt.Errorf("failed to enqueue upload: %w", err)
	}

	return affected(res)
}

// Claim moves a queued upload to processing
func (r *UploadRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE uploads SET status = ?, started_at = ?, completed_at = NULL
		WHERE id = ? AND status = ?`

	res, err := r.db.Executor(ctx).ExecContext(ctx, query,
		string(entity.UploadStatusProcessing),
		at.UTC(),
		id,
		string(entity.UploadStatusQueued),
	)
	if err != nil {
		r.logger.Error("Failed to claim upload",
			zap.String("id", id),
			zap.Error(err))
		return false, fmt.Errorf("failed to claim upload: %w", err)
	}

	return affected(res)
}

// Finish records the outcome of a detection run
func (r *UploadRepository) Finish(ctx context.Context, id string, status entity.UploadStatus, findings, anomalies int, errMsg string, at time.Time) error {
	query := `UPDATE uploads
		SET status = ?, findings_count = ?, anomaly_count = ?, error = ?, completed_at = ?
		WHERE id = ?`

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		string(status),
		findings,
		anomalies,
		errMsg,
		at.UTC(),
		id,
	)
	if err != nil {
		r.logger.Error("Failed to finish upload",
			zap.String("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to finish upload: %w", err)
	}

	return nil
}

// RequeueStale puts processing uploads whose run started before cutoff back
// in the queue. A worker that died between claim and finish leaves such rows.
func (r *UploadRepository) RequeueStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		rows, err := r.db.Executor(txCtx).QueryContext(txCtx,
			`SELECT id FROM uploads WHERE status = ? AND started_at < ?`,
			string(entity.UploadStatusProcessing), cutoff.UTC())
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			_, err := r.db.Executor(txCtx).ExecContext(txCtx,
				`UPDATE uploads SET status = ?, started_at = NULL WHERE id = ? AND status = ?`,
				string(entity.UploadStatusQueued), id, string(entity.UploadStatusProcessing))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to requeue stale uploads", zap.Error(err))
		return nil, fmt.Errorf("failed to requeue stale uploads: %w", err)
	}

	return ids, nil
}

func scanUpload(row rowScanner) (*entity.Upload, error) {
	var u entity.Upload
	var status string
	var useAdvisory int
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&u.ID,
		&u.CompanyID,
		&u.SourceName,
		&u.InvoiceCount,
		&status,
		&useAdvisory,
		&u.FindingsCount,
		&u.AnomalyCount,
		&u.Error,
		&u.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Status = entity.UploadStatus(status)
	u.UseAdvisory = useAdvisory != 0
	u.StartedAt = timePtr(startedAt)
	u.CompletedAt = timePtr(completedAt)

	return &u, nil
}

var _ port.UploadRepository = (*UploadRepository)(nil)
