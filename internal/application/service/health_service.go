package service

import (
	"context"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
)

// severityWeights is the score deducted per unresolved finding
var severityWeights = map[entity.Severity]int{
	entity.SeverityCritical: 25,
	entity.SeverityHigh:     10,
	entity.SeverityMedium:   5,
	entity.SeverityLow:      2,
}

// HealthScore summarizes a company's open compliance exposure
type HealthScore struct {
	CompanyID  string                  `json:"company_id"`
	Score      int                     `json:"score"`
	Grade      string                  `json:"grade"`
	Unresolved map[entity.Severity]int `json:"unresolved"`
	Total      int                     `json:"total_unresolved"`
	ComputedAt time.Time               `json:"computed_at"`
}

// ComputeHealthScore returns 100 minus the severity weights of the open
// findings, floored at zero
func ComputeHealthScore(companyID string, unresolved map[entity.Severity]int) *HealthScore {
	score := 100
	total := 0
	counts := make(map[entity.Severity]int, len(severityWeights))
	for sev := range severityWeights {
		counts[sev] = unresolved[sev]
	}
	for sev, n := range unresolved {
		total += n
		score -= severityWeights[sev] * n
	}
	if score < 0 {
		score = 0
	}

	return &HealthScore{
		CompanyID:  companyID,
		Score:      score,
		Grade:      grade(score),
		Unresolved: counts,
		Total:      total,
		ComputedAt: nowUTC(),
	}
}

func grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// HealthService serves cached health scores
type HealthService interface {
	Score(ctx context.Context, companyID string) (*HealthScore, error)
	Invalidate(companyID string)
}

type healthServiceImpl struct {
	findingRepo port.FindingRepository
	cache       port.Cache[*HealthScore]
	logger      Logger
}

// NewHealthService creates a new HealthService. cache may be nil to always
// recompute.
func NewHealthService(findingRepo port.FindingRepository, cache port.Cache[*HealthScore], logger Logger) HealthService {
	return &healthServiceImpl{
		findingRepo: findingRepo,
		cache:       cache,
		logger:      logger,
	}
}

// Score returns the cached score or recomputes it from unresolved findings
func (s *healthServiceImpl) Score(ctx context.Context, companyID string) (*HealthScore, error) {
	const op = "health score"

	if companyID == "" {
		return nil, apperr.Validation(op, "company id is required")
	}

	if s.cache != nil {
		if hs, ok := s.cache.Get(companyID); ok {
			return hs, nil
		}
	}

	counts, err := s.findingRepo.CountUnresolvedBySeverity(ctx, companyID)
	if err != nil {
		s.logger.Error("Failed to count unresolved findings", "company_id", companyID, "error", err)
		return nil, apperr.Persistence(op, err)
	}

	hs := ComputeHealthScore(companyID, counts)
	if s.cache != nil {
		s.cache.Set(companyID, hs)
	}
	return hs, nil
}

// Invalidate drops the cached score of a company
func (s *healthServiceImpl) Invalidate(companyID string) {
	if s.cache == nil || companyID == "" {
		return
	}
	s.cache.Delete(companyID)
	s.logger.Info("Health score invalidated", "company_id", companyID)
}
