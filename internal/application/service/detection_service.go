package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/event"
	"golang.org/x/sync/errgroup"
)

// RuleEvaluator evaluates the rule catalog against one invoice
type RuleEvaluator interface {
	Evaluate(inv *entity.Invoice) ([]entity.Candidate, error)
}

// DetectionConfig tunes a detection run
type DetectionConfig struct {
	Concurrency    int
	LockTTL        time.Duration
	LockRetryAfter time.Duration
}

// DefaultDetectionConfig returns the standard detection settings
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Concurrency:    8,
		LockTTL:        2 * time.Minute,
		LockRetryAfter: 5 * time.Second,
	}
}

// DetectionResult is the outcome of one detection run
type DetectionResult struct {
	UploadID        string                     `json:"upload_id"`
	Findings        []*entity.Finding          `json:"findings"`
	NewFindings     int                        `json:"new_findings"`
	Anomalies       []*entity.DetectionAnomaly `json:"anomalies"`
	AdvisoryApplied bool                       `json:"advisory_applied"`
}

// DetectionService runs compliance detection over uploads
type DetectionService interface {
	Detect(ctx context.Context, uploadID string, useAdvisory bool) (*DetectionResult, error)
}

type detectionServiceImpl struct {
	uploadRepo  port.UploadRepository
	invoiceRepo port.InvoiceRepository
	findingRepo port.FindingRepository
	anomalyRepo port.AnomalyRepository
	txManager   port.TransactionManager
	engine      RuleEvaluator
	augmenter   port.Augmenter
	locker      port.Locker
	publisher   port.EventPublisher
	config      DetectionConfig
	logger      Logger
}

// NewDetectionService creates a new DetectionService. augmenter may be nil,
// in which case advisory requests are ignored.
func NewDetectionService(
	uploadRepo port.UploadRepository,
	invoiceRepo port.InvoiceRepository,
	findingRepo port.FindingRepository,
	anomalyRepo port.AnomalyRepository,
	txManager port.TransactionManager,
	engine RuleEvaluator,
	augmenter port.Augmenter,
	locker port.Locker,
	publisher port.EventPublisher,
	config DetectionConfig,
	logger Logger,
) DetectionService {
	defaults := DefaultDetectionConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.LockRetryAfter <= 0 {
		config.LockRetryAfter = defaults.LockRetryAfter
	}

	return &detectionServiceImpl{
		uploadRepo:  uploadRepo,
		invoiceRepo: invoiceRepo,
		findingRepo: findingRepo,
		anomalyRepo: anomalyRepo,
		txManager:   txManager,
		engine:      engine,
		augmenter:   augmenter,
		locker:      locker,
		publisher:   publisher,
		config:      config,
		logger:      logger,
	}
}

// evaluation is the rule outcome for one invoice
type evaluation struct {
	candidates []entity.Candidate
	anomaly    string
}

// Detect evaluates every invoice of the upload, persists findings that are
// not already recorded, and returns the open or rejected findings matching
// this run's candidates in invoice then catalog order.
func (s *detectionServiceImpl) Detect(ctx context.Context, uploadID string, useAdvisory bool) (*DetectionResult, error) {
	const op = "detect"

	if uploadID == "" {
		return nil, apperr.Validation(op, "upload id is required")
	}

	upload, err := s.uploadRepo.GetByID(ctx, uploadID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if upload == nil {
		return nil, apperr.NotFound(op, "upload", uploadID)
	}

	lock, err := s.locker.Obtain(ctx, "detect:"+uploadID, s.config.LockTTL)
	if err != nil {
		if errors.Is(err, port.ErrLockNotObtained) {
			s.logger.Info("Detection already running for upload", "upload_id", uploadID)
			return nil, apperr.Throttled(op, s.config.LockRetryAfter)
		}
		return nil, apperr.Persistence(op, fmt.Errorf("obtain detection lock: %w", err))
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Failed to release detection lock", "upload_id", uploadID, "error", err)
		}
	}()

	invoices, err := s.invoiceRepo.ListByUpload(ctx, uploadID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}

	evaluations, err := s.evaluate(ctx, invoices)
	if err != nil {
		return nil, classify(op, err)
	}

	var candidates []*entity.Candidate
	var anomalies []*entity.DetectionAnomaly
	for i, ev := range evaluations {
		if ev.anomaly != "" {
			anomalies = append(anomalies, &entity.DetectionAnomaly{
				ID:        newID(),
				UploadID:  uploadID,
				InvoiceID: invoices[i].ID,
				Reason:    ev.anomaly,
				CreatedAt: nowUTC(),
			})
			continue
		}
		for j := range ev.candidates {
			c := ev.candidates[j]
			candidates = append(candidates, &c)
		}
	}

	advisoryApplied := false
	if useAdvisory && s.augmenter != nil && len(candidates) > 0 {
		candidates, advisoryApplied = s.augmenter.Augment(ctx, candidates)
	}

	result := &DetectionResult{
		UploadID:        uploadID,
		Anomalies:       anomalies,
		AdvisoryApplied: advisoryApplied,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, a := range anomalies {
			if err := s.anomalyRepo.Create(txCtx, a); err != nil {
				return err
			}
		}

		for _, c := range candidates {
			created, err := s.findingRepo.Create(txCtx, &entity.Finding{
				ID:          newID(),
				UploadID:    uploadID,
				CompanyID:   upload.CompanyID,
				InvoiceID:   c.InvoiceID,
				Category:    c.Category,
				Severity:    c.Severity,
				Message:     c.Message,
				PenaltyRisk: c.PenaltyRisk,
				AutoFixable: c.AutoFixable,
				Status:      entity.FindingStatusOpen,
				Advisory:    c.Advisory,
				CreatedAt:   nowUTC(),
			})
			if err != nil {
				return err
			}
			if created {
				result.NewFindings++
			}
		}

		findings, err := s.matchingFindings(txCtx, candidates)
		if err != nil {
			return err
		}
		result.Findings = findings
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to persist detection results", "upload_id", uploadID, "error", err)
		return nil, classify(op, err)
	}

	s.logger.Info("Detection completed",
		"upload_id", uploadID,
		"invoices", len(invoices),
		"findings", len(result.Findings),
		"new_findings", result.NewFindings,
		"anomalies", len(anomalies),
		"advisory_applied", advisoryApplied,
	)

	publish(ctx, s.publisher, event.NewEvent(event.TypeDetectionCompleted, upload.CompanyID, uploadID, map[string]interface{}{
		"findings":         len(result.Findings),
		"new_findings":     result.NewFindings,
		"anomalies":        len(anomalies),
		"advisory_applied": advisoryApplied,
	}))

	return result, nil
}

// evaluate runs the rule engine over invoices with bounded parallelism.
// Results are indexed by invoice position; a failing or panicking
// evaluation becomes an anomaly instead of aborting the run.
func (s *detectionServiceImpl) evaluate(ctx context.Context, invoices []*entity.Invoice) ([]evaluation, error) {
	out := make([]evaluation, len(invoices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for i, inv := range invoices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = s.evaluateOne(inv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluation interrupted: %w", err)
	}

	return out, nil
}

func (s *detectionServiceImpl) evaluateOne(inv *entity.Invoice) (ev evaluation) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Rule evaluation panicked", "invoice_id", inv.ID, "panic", r)
			ev = evaluation{anomaly: fmt.Sprintf("rule evaluation panicked: %v", r)}
		}
	}()

	candidates, err := s.engine.Evaluate(inv)
	if err != nil {
		s.logger.Info("Invoice skipped by detection", "invoice_id", inv.ID, "reason", err.Error())
		return evaluation{anomaly: err.Error()}
	}
	return evaluation{candidates: candidates}
}

// matchingFindings returns the open or rejected stored findings for the
// candidates' (invoice, category) keys, in candidate order
func (s *detectionServiceImpl) matchingFindings(ctx context.Context, candidates []*entity.Candidate) ([]*entity.Finding, error) {
	if len(candidates) == 0 {
		return []*entity.Finding{}, nil
	}

	seen := make(map[string]bool)
	var invoiceIDs []string
	for _, c := range candidates {
		if !seen[c.InvoiceID] {
			seen[c.InvoiceID] = true
			invoiceIDs = append(invoiceIDs, c.InvoiceID)
		}
	}

	stored, err := s.findingRepo.ListByInvoices(ctx, invoiceIDs)
	if err != nil {
		return nil, err
	}

	byKey := make(map[entity.DedupKey]*entity.Finding, len(stored))
	for _, f := range stored {
		byKey[f.DedupKey()] = f
	}

	findings := make([]*entity.Finding, 0, len(candidates))
	for _, c := range candidates {
		f, ok := byKey[c.DedupKey()]
		if !ok {
			continue
		}
		if f.Status == entity.FindingStatusOpen || f.Status == entity.FindingStatusRejected {
			findings = append(findings, f)
		}
	}

	return findings, nil
}
