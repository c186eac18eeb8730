package service

import (
	"context"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// SavingsConfig holds the cost side of the ROI calculation
type SavingsConfig struct {
	// ServiceCostPerPeriod is what the service costs per quarter
	ServiceCostPerPeriod decimal.Decimal
}

// SavingsService records realized savings and reports rollups.
// Credit and Debit join the caller's transaction when called with one.
type SavingsService interface {
	Credit(ctx context.Context, companyID, period string, penalty, labor decimal.Decimal, kind entity.FixKind) error
	Debit(ctx context.Context, companyID, period string, penalty, labor decimal.Decimal, kind entity.FixKind) error
	Summary(ctx context.Context, companyID, period string) (*ledger.Aggregates, error)
	AllTime(ctx context.Context, companyID string) (*ledger.Aggregates, error)
	ListPeriods(ctx context.Context, companyID string) ([]*entity.SavingsSnapshot, error)
}

type savingsServiceImpl struct {
	savingsRepo port.SavingsRepository
	config      SavingsConfig
	logger      Logger
}

// NewSavingsService creates a new SavingsService
func NewSavingsService(savingsRepo port.SavingsRepository, config SavingsConfig, logger Logger) SavingsService {
	return &savingsServiceImpl{
		savingsRepo: savingsRepo,
		config:      config,
		logger:      logger,
	}
}

// Credit adds realized savings to a period; an empty period means the
// current quarter
func (s *savingsServiceImpl) Credit(ctx context.Context, companyID, period string, penalty, labor decimal.Decimal, kind entity.FixKind) error {
	delta, period, err := s.delta("credit savings", companyID, period, penalty, labor, kind)
	if err != nil {
		return err
	}
	return s.apply(ctx, "credit savings", companyID, period, delta)
}

// Debit mirrors Credit; balances never go below zero
func (s *savingsServiceImpl) Debit(ctx context.Context, companyID, period string, penalty, labor decimal.Decimal, kind entity.FixKind) error {
	delta, period, err := s.delta("debit savings", companyID, period, penalty, labor, kind)
	if err != nil {
		return err
	}
	return s.apply(ctx, "debit savings", companyID, period, delta.Negate())
}

func (s *savingsServiceImpl) delta(op, companyID, period string, penalty, labor decimal.Decimal, kind entity.FixKind) (entity.SavingsDelta, string, error) {
	if companyID == "" {
		return entity.SavingsDelta{}, "", apperr.Validation(op, "company id is required")
	}
	if period == "" {
		period = ledger.QuarterOf(nowUTC())
	}
	if !ledger.ValidPeriod(period) {
		return entity.SavingsDelta{}, "", apperr.Validation(op, "invalid period %q, want YYYY-QN", period)
	}
	if penalty.IsNegative() || labor.IsNegative() {
		return entity.SavingsDelta{}, "", apperr.Validation(op, "amounts must not be negative")
	}

	delta := entity.SavingsDelta{PenaltyAvoided: penalty, LaborCostAvoided: labor}
	switch kind {
	case entity.FixKindAuto:
		delta.AutoFixes = 1
	case entity.FixKindManual:
		delta.ManualFixes = 1
	default:
		return entity.SavingsDelta{}, "", apperr.Validation(op, "unknown fix kind %q", kind)
	}

	return delta, period, nil
}

func (s *savingsServiceImpl) apply(ctx context.Context, op, companyID, period string, delta entity.SavingsDelta) error {
	if err := s.savingsRepo.Apply(ctx, companyID, period, delta); err != nil {
		s.logger.Error("Failed to update savings ledger",
			"company_id", companyID,
			"period", period,
			"error", err,
		)
		return apperr.Persistence(op, err)
	}
	return nil
}

// Summary returns the rollup of one period. A period with no activity
// reports zeros.
func (s *savingsServiceImpl) Summary(ctx context.Context, companyID, period string) (*ledger.Aggregates, error) {
	const op = "savings summary"

	if companyID == "" {
		return nil, apperr.Validation(op, "company id is required")
	}
	if period == "" {
		period = ledger.QuarterOf(nowUTC())
	}
	if !ledger.ValidPeriod(period) {
		return nil, apperr.Validation(op, "invalid period %q, want YYYY-QN", period)
	}

	snapshot, err := s.savingsRepo.Get(ctx, companyID, period)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}

	var snapshots []*entity.SavingsSnapshot
	if snapshot != nil {
		snapshots = append(snapshots, snapshot)
	}

	agg := ledger.Sum(companyID, snapshots).WithROI(s.config.ServiceCostPerPeriod)
	agg.Period = period
	agg.Periods = 1
	return &agg, nil
}

// AllTime sums every period of the company. The service cost scales with
// the number of periods on record.
func (s *savingsServiceImpl) AllTime(ctx context.Context, companyID string) (*ledger.Aggregates, error) {
	snapshots, err := s.ListPeriods(ctx, companyID)
	if err != nil {
		return nil, err
	}

	agg := ledger.Sum(companyID, snapshots)
	cost := s.config.ServiceCostPerPeriod.Mul(decimal.NewFromInt(int64(agg.Periods)))
	agg = agg.WithROI(cost)

	s.logger.Info("All-time savings computed",
		"company_id", companyID,
		"periods", agg.Periods,
		"total_savings", agg.TotalSavings.String(),
	)
	return &agg, nil
}

// ListPeriods returns the per-period snapshots, oldest first
func (s *savingsServiceImpl) ListPeriods(ctx context.Context, companyID string) ([]*entity.SavingsSnapshot, error) {
	const op = "list savings periods"

	if companyID == "" {
		return nil, apperr.Validation(op, "company id is required")
	}

	snapshots, err := s.savingsRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return snapshots, nil
}
