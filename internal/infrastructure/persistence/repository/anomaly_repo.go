package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AnomalyRepository implements port.AnomalyRepository
type AnomalyRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAnomalyRepository creates a new detection anomaly repository
func NewAnomalyRepository(db *sqlite.DB, logger *zap.Logger) port.AnomalyRepository {
	return &AnomalyRepository{
		db:     db,
		logger: logger,
	}
}

// Create records an anomaly; a repeat for the same (upload, invoice) is ignored
func (r *AnomalyRepository) Create(ctx context.Context, a *entity.DetectionAnomaly) error {
	query := `INSERT INTO detection_anomalies (id, upload_id, invoice_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(upload_id, invoice_id) DO NOTHING`

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		a.ID, a.UploadID, a.InvoiceID, a.Reason, a.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create detection anomaly",
			zap.String("upload_id", a.UploadID),
			zap.String("invoice_id", a.InvoiceID),
			zap.Error(err))
		return fmt.Errorf("failed to create detection anomaly: %w", err)
	}

	return nil
}

// ListByUpload returns the anomalies of an upload in insertion order
func (r *AnomalyRepository) ListByUpload(ctx context.Context, uploadID string) ([]*entity.DetectionAnomaly, error) {
	query := `SELECT id, upload_id, invoice_id, reason, created_at
		FROM detection_anomalies
		WHERE upload_id = ?
		ORDER BY rowid`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, uploadID)
	if err != nil {
		r.logger.Error("Failed to list detection anomalies",
			zap.String("upload_id", uploadID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list detection anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*entity.DetectionAnomaly
	for rows.Next() {
		var a entity.DetectionAnomaly
		if err := rows.Scan(&a.ID, &a.UploadID, &a.InvoiceID, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection anomaly: %w", err)
		}
		anomalies = append(anomalies, &a)
	}

	return anomalies, rows.Err()
}

var _ port.AnomalyRepository = (*AnomalyRepository)(nil)
