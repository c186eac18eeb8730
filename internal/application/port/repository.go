package port

import (
	"context"
	"time"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
)

// InvoiceRepository defines persistence operations for Invoice.
// UpdateFields is the only write path for correction fields.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	ListByUpload(ctx context.Context, uploadID string) ([]*entity.Invoice, error)
	UpdateFields(ctx context.Context, id string, fields entity.InvoiceFields) error
}

// FindingRepository defines persistence operations for Finding
type FindingRepository interface {
	// Create inserts f unless a finding with the same (invoice, category)
	// exists, and reports whether a row was written.
	Create(ctx context.Context, f *entity.Finding) (bool, error)
	GetByID(ctx context.Context, id string) (*entity.Finding, error)
	List(ctx context.Context, filter entity.FindingFilter) ([]*entity.Finding, error)
	ListByInvoices(ctx context.Context, invoiceIDs []string) ([]*entity.Finding, error)

	// TransitionStatus moves a finding from one status to another and reports
	// whether this call won the compare-and-set.
	TransitionStatus(ctx context.Context, id string, from, to entity.FindingStatus, at time.Time) (bool, error)

	CountUnresolvedBySeverity(ctx context.Context, companyID string) (map[entity.Severity]int, error)
}

// FixRecordRepository defines persistence operations for FixRecord
type FixRecordRepository interface {
	Create(ctx context.Context, rec *entity.FixRecord) error
	GetByID(ctx context.Context, id string) (*entity.FixRecord, error)
	ListByFinding(ctx context.Context, findingID string) ([]*entity.FixRecord, error)

	// ListActiveByInvoice returns the not-undone fixes of an invoice in applied order
	ListActiveByInvoice(ctx context.Context, invoiceID string) ([]*entity.FixRecord, error)

	// MarkUndone stamps undone_at/undone_by once; false means it was already set
	MarkUndone(ctx context.Context, id, actorID string, at time.Time) (bool, error)
}

// SavingsRepository defines persistence operations for SavingsSnapshot
type SavingsRepository interface {
	// Apply upserts the (company, period) row and adds delta, flooring every
	// balance at zero.
	Apply(ctx context.Context, companyID, period string, delta entity.SavingsDelta) error
	Get(ctx context.Context, companyID, period string) (*entity.SavingsSnapshot, error)
	ListByCompany(ctx context.Context, companyID string) ([]*entity.SavingsSnapshot, error)
}

// UploadRepository defines persistence operations for Upload
type UploadRepository interface {
	Create(ctx context.Context, u *entity.Upload) error
	GetByID(ctx context.Context, id string) (*entity.Upload, error)
	ListByStatus(ctx context.Context, status entity.UploadStatus, limit int) ([]*entity.Upload, error)

	// Enqueue marks a non-processing upload as queued for detection
	Enqueue(ctx context.Context, id string, useAdvisory bool) (bool, error)

	// Claim moves a queued upload to processing; false means another worker won
	Claim(ctx context.Context, id string, at time.Time) (bool, error)

	Finish(ctx context.Context, id string, status entity.UploadStatus, findings, anomalies int, errMsg string, at time.Time) error

	// RequeueStale returns processing uploads started before cutoff to the
	// queue and reports their ids
	RequeueStale(ctx context.Context, cutoff time.Time) ([]string, error)
}

// AnomalyRepository defines persistence operations for DetectionAnomaly
type AnomalyRepository interface {
	// Create records a, keeping the first anomaly per (upload, invoice)
	Create(ctx context.Context, a *entity.DetectionAnomaly) error
	ListByUpload(ctx context.Context, uploadID string) ([]*entity.DetectionAnomaly, error)
}

// TransactionManager runs fn inside one database transaction. Repositories
// called with the ctx passed to fn join that transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
