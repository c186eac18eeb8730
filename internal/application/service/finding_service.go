package service

import (
	"context"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
)

const maxFindingPage = 500

// FindingService answers finding queries
type FindingService interface {
	GetFinding(ctx context.Context, id string) (*entity.Finding, error)
	ListFindings(ctx context.Context, filter entity.FindingFilter) ([]*entity.Finding, error)
}

type findingServiceImpl struct {
	findingRepo port.FindingRepository
	logger      Logger
}

// NewFindingService creates a new FindingService
func NewFindingService(findingRepo port.FindingRepository, logger Logger) FindingService {
	return &findingServiceImpl{
		findingRepo: findingRepo,
		logger:      logger,
	}
}

// GetFinding retrieves a finding by ID
func (s *findingServiceImpl) GetFinding(ctx context.Context, id string) (*entity.Finding, error) {
	const op = "get finding"

	if id == "" {
		return nil, apperr.Validation(op, "finding id is required")
	}

	f, err := s.findingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if f == nil {
		return nil, apperr.NotFound(op, "finding", id)
	}
	return f, nil
}

// ListFindings returns findings matching filter. An upload or company is
// required to keep queries scoped.
func (s *findingServiceImpl) ListFindings(ctx context.Context, filter entity.FindingFilter) ([]*entity.Finding, error) {
	const op = "list findings"

	if filter.UploadID == "" && filter.CompanyID == "" {
		return nil, apperr.Validation(op, "upload_id or company_id is required")
	}
	if filter.Severity != "" && !filter.Severity.IsValid() {
		return nil, apperr.Validation(op, "unknown severity %q", filter.Severity)
	}
	switch filter.Status {
	case "", entity.FindingStatusOpen, entity.FindingStatusFixed, entity.FindingStatusRejected:
	default:
		return nil, apperr.Validation(op, "unknown status %q", filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > maxFindingPage {
		filter.Limit = maxFindingPage
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	findings, err := s.findingRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list findings", "upload_id", filter.UploadID, "company_id", filter.CompanyID, "error", err)
		return nil, apperr.Persistence(op, err)
	}
	if findings == nil {
		findings = []*entity.Finding{}
	}
	return findings, nil
}
