package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/event"
	"github.com/garyjia/vat-compliance/pkg/utils"
	"github.com/shopspring/decimal"
)

// InvoiceInput is one invoice of an upload request
type InvoiceInput struct {
	InvoiceNumber   string          `json:"invoice_number" validate:"required,max=64"`
	IssueDate       time.Time       `json:"issue_date" validate:"required"`
	SupplierID      string          `json:"supplier_id" validate:"max=64"`
	SupplierVATID   string          `json:"supplier_vat_id" validate:"max=32"`
	SupplierCountry string          `json:"supplier_country" validate:"required,country"`
	CustomerID      string          `json:"customer_id" validate:"max=64"`
	CustomerName    string          `json:"customer_name" validate:"max=255"`
	CustomerVATID   string          `json:"customer_vat_id" validate:"max=32"`
	CustomerCountry string          `json:"customer_country" validate:"required,country"`
	SupplyCategory  string          `json:"category" validate:"required,oneof=domestic cross_border_b2b cross_border_b2c"`
	ProductCategory string          `json:"product_category" validate:"required,oneof=standard reduced food books medical digital_services"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	VATRate         decimal.Decimal `json:"vat_rate"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ReverseCharge   bool            `json:"reverse_charge"`
}

// CreateUploadRequest carries the invoices of one ingestion batch
type CreateUploadRequest struct {
	CompanyID   string         `json:"company_id" validate:"required,max=64"`
	SourceName  string         `json:"source_name" validate:"max=255"`
	Invoices    []InvoiceInput `json:"invoices" validate:"required,min=1,max=5000,dive"`
	AutoDetect  bool           `json:"auto_detect"`
	UseAdvisory bool           `json:"use_advisory"`
}

// UploadService manages invoice uploads and their detection queue
type UploadService interface {
	CreateUpload(ctx context.Context, req *CreateUploadRequest) (*entity.Upload, error)
	GetUpload(ctx context.Context, id string) (*entity.Upload, error)
	ListInvoices(ctx context.Context, uploadID string) ([]*entity.Invoice, error)
	ListAnomalies(ctx context.Context, uploadID string) ([]*entity.DetectionAnomaly, error)
	EnqueueDetection(ctx context.Context, uploadID string, useAdvisory bool) (*entity.Upload, error)
}

type uploadServiceImpl struct {
	uploadRepo  port.UploadRepository
	invoiceRepo port.InvoiceRepository
	anomalyRepo port.AnomalyRepository
	txManager   port.TransactionManager
	publisher   port.EventPublisher
	logger      Logger
}

// NewUploadService creates a new UploadService
func NewUploadService(
	uploadRepo port.UploadRepository,
	invoiceRepo port.InvoiceRepository,
	anomalyRepo port.AnomalyRepository,
	txManager port.TransactionManager,
	publisher port.EventPublisher,
	logger Logger,
) UploadService {
	return &uploadServiceImpl{
		uploadRepo:  uploadRepo,
		invoiceRepo: invoiceRepo,
		anomalyRepo: anomalyRepo,
		txManager:   txManager,
		publisher:   publisher,
		logger:      logger,
	}
}

// CreateUpload stores the upload and its invoices atomically. With
// AutoDetect the upload is queued for the detection worker.
func (s *uploadServiceImpl) CreateUpload(ctx context.Context, req *CreateUploadRequest) (*entity.Upload, error) {
	const op = "create upload"

	if req == nil {
		return nil, apperr.Validation(op, "request is required")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, op, err)
	}

	for i := range req.Invoices {
		if err := validateAmounts(&req.Invoices[i]); err != nil {
			return nil, apperr.Validation(op, "invoices[%d]: %v", i, err)
		}
	}

	now := nowUTC()
	upload := &entity.Upload{
		ID:           newID(),
		CompanyID:    req.CompanyID,
		SourceName:   utils.SanitizeString(req.SourceName),
		InvoiceCount: len(req.Invoices),
		Status:       entity.UploadStatusPending,
		CreatedAt:    now,
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.uploadRepo.Create(txCtx, upload); err != nil {
			return err
		}
		for i := range req.Invoices {
			if err := s.invoiceRepo.Create(txCtx, toInvoice(upload, &req.Invoices[i], now)); err != nil {
				return err
			}
		}
		if req.AutoDetect {
			if _, err := s.uploadRepo.Enqueue(txCtx, upload.ID, req.UseAdvisory); err != nil {
				return err
			}
			upload.Status = entity.UploadStatusQueued
			upload.UseAdvisory = req.UseAdvisory
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create upload", "company_id", req.CompanyID, "error", err)
		return nil, classify(op, err)
	}

	s.logger.Info("Upload created",
		"upload_id", upload.ID,
		"company_id", upload.CompanyID,
		"invoices", upload.InvoiceCount,
		"status", upload.Status,
	)
	s.publishStatus(ctx, upload)

	return upload, nil
}

func validateAmounts(in *InvoiceInput) error {
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"net_amount", in.NetAmount},
		{"vat_amount", in.VATAmount},
		{"total_amount", in.TotalAmount},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return fmt.Errorf("%s must not be negative", a.name)
		}
		if !a.value.Equal(a.value.Round(2)) {
			return fmt.Errorf("%s has more than two decimal places", a.name)
		}
	}
	if in.VATRate.IsNegative() || in.VATRate.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("vat_rate must be between 0 and 100")
	}
	return nil
}

func toInvoice(upload *entity.Upload, in *InvoiceInput, now time.Time) *entity.Invoice {
	return &entity.Invoice{
		ID:              newID(),
		UploadID:        upload.ID,
		CompanyID:       upload.CompanyID,
		InvoiceNumber:   in.InvoiceNumber,
		IssueDate:       in.IssueDate.UTC(),
		SupplierID:      in.SupplierID,
		SupplierVATID:   strings.TrimSpace(in.SupplierVATID),
		SupplierCountry: in.SupplierCountry,
		CustomerID:      in.CustomerID,
		CustomerName:    utils.SanitizeString(in.CustomerName),
		CustomerVATID:   strings.TrimSpace(in.CustomerVATID),
		CustomerCountry: in.CustomerCountry,
		SupplyCategory:  entity.SupplyCategory(in.SupplyCategory),
		ProductCategory: in.ProductCategory,
		NetAmount:       in.NetAmount,
		VATRate:         in.VATRate,
		VATAmount:       in.VATAmount,
		TotalAmount:     in.TotalAmount,
		ReverseCharge:   in.ReverseCharge,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// GetUpload returns an upload with its detection status
func (s *uploadServiceImpl) GetUpload(ctx context.Context, id string) (*entity.Upload, error) {
	const op = "get upload"

	if id == "" {
		return nil, apperr.Validation(op, "upload id is required")
	}

	upload, err := s.uploadRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if upload == nil {
		return nil, apperr.NotFound(op, "upload", id)
	}
	return upload, nil
}

// ListInvoices returns the invoices of an upload in ingestion order
func (s *uploadServiceImpl) ListInvoices(ctx context.Context, uploadID string) ([]*entity.Invoice, error) {
	const op = "list invoices"

	if _, err := s.GetUpload(ctx, uploadID); err != nil {
		return nil, err
	}

	invoices, err := s.invoiceRepo.ListByUpload(ctx, uploadID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if invoices == nil {
		invoices = []*entity.Invoice{}
	}
	return invoices, nil
}

// ListAnomalies returns the invoices detection had to skip
func (s *uploadServiceImpl) ListAnomalies(ctx context.Context, uploadID string) ([]*entity.DetectionAnomaly, error) {
	const op = "list anomalies"

	if _, err := s.GetUpload(ctx, uploadID); err != nil {
		return nil, err
	}

	anomalies, err := s.anomalyRepo.ListByUpload(ctx, uploadID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if anomalies == nil {
		anomalies = []*entity.DetectionAnomaly{}
	}
	return anomalies, nil
}

// EnqueueDetection hands the upload to the detection worker. Enqueueing an
// upload that is already queued or processing is a no-op that returns its
// current state.
func (s *uploadServiceImpl) EnqueueDetection(ctx context.Context, uploadID string, useAdvisory bool) (*entity.Upload, error) {
	const op = "enqueue detection"

	if _, err := s.GetUpload(ctx, uploadID); err != nil {
		return nil, err
	}

	queued, err := s.uploadRepo.Enqueue(ctx, uploadID, useAdvisory)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}

	upload, err := s.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if queued {
		s.logger.Info("Upload queued for detection", "upload_id", uploadID, "use_advisory", useAdvisory)
		s.publishStatus(ctx, upload)
	}
	return upload, nil
}

func (s *uploadServiceImpl) publishStatus(ctx context.Context, upload *entity.Upload) {
	publish(ctx, s.publisher, event.NewEvent(event.TypeUploadStatusChanged, upload.CompanyID, upload.ID, map[string]interface{}{
		"status": string(upload.Status),
	}))
}
