package service

import (
	"context"
	"fmt"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/event"
	"github.com/garyjia/vat-compliance/internal/domain/fixes"
	"github.com/garyjia/vat-compliance/internal/domain/ledger"
	"github.com/garyjia/vat-compliance/internal/domain/workflow"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// FixCatalog resolves the correction strategy of a finding category
type FixCatalog interface {
	StrategyFor(category entity.FindingCategory) (fixes.Strategy, bool)
}

// RemediationConfig holds the labor model and bulk limits
type RemediationConfig struct {
	// LaborMinutesPerFix is the manual effort an automatic fix saves
	LaborMinutesPerFix int
	HourlyRate         decimal.Decimal
	BulkConcurrency    int
	MaxBulkSize        int
}

// DefaultRemediationConfig returns the standard remediation settings
func DefaultRemediationConfig() RemediationConfig {
	return RemediationConfig{
		LaborMinutesPerFix: 15,
		HourlyRate:         decimal.NewFromInt(60),
		BulkConcurrency:    4,
		MaxBulkSize:        500,
	}
}

// LaborCost returns the labor saved by one automatic fix, rounded to cents
func (c RemediationConfig) LaborCost() decimal.Decimal {
	return c.HourlyRate.
		Mul(decimal.NewFromInt(int64(c.LaborMinutesPerFix))).
		Div(decimal.NewFromInt(60)).
		Round(2)
}

// FixPreview is what ExecuteFix would do, computed without writing
type FixPreview struct {
	FindingID        string                 `json:"finding_id"`
	InvoiceID        string                 `json:"invoice_id"`
	Category         entity.FindingCategory `json:"category"`
	Diff             entity.FieldDiff       `json:"diff"`
	CorrectedInvoice entity.Invoice         `json:"corrected_invoice"`
	PenaltyAvoided   decimal.Decimal        `json:"penalty_avoided"`
	LaborCostAvoided decimal.Decimal        `json:"labor_cost_avoided"`
	SavingsAmount    decimal.Decimal        `json:"savings_amount"`
	Period           string                 `json:"period"`
}

// BulkFixSuccess is one applied fix of a bulk request
type BulkFixSuccess struct {
	FindingID     string          `json:"finding_id"`
	FixRecordID   string          `json:"fix_record_id"`
	SavingsAmount decimal.Decimal `json:"savings_amount"`
}

// BulkFixFailure is one rejected item of a bulk request
type BulkFixFailure struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// BulkFixResult reports every item of a bulk request in input order
type BulkFixResult struct {
	Successful   []BulkFixSuccess `json:"successful"`
	Failed       []BulkFixFailure `json:"failed"`
	TotalSavings decimal.Decimal  `json:"total_savings"`
}

// SuccessfulIDs returns the finding ids that were fixed
func (r *BulkFixResult) SuccessfulIDs() []string {
	ids := make([]string, len(r.Successful))
	for i, s := range r.Successful {
		ids[i] = s.FindingID
	}
	return ids
}

// RemediationService applies, previews and reverts finding corrections
type RemediationService interface {
	PreviewFix(ctx context.Context, findingID string) (*FixPreview, error)
	ExecuteFix(ctx context.Context, findingID, actorID string) (*entity.FixRecord, error)
	BulkFix(ctx context.Context, findingIDs []string, actorID string) (*BulkFixResult, error)
	UndoFix(ctx context.Context, fixRecordID, actorID string) (*entity.FixRecord, error)
	RejectFinding(ctx context.Context, findingID, actorID, reason string) (*entity.Finding, error)
	ResolveManually(ctx context.Context, findingID, actorID, note string) (*entity.FixRecord, error)
	ListFixHistory(ctx context.Context, findingID string) ([]*entity.FixRecord, error)
}

type remediationServiceImpl struct {
	findingRepo   port.FindingRepository
	invoiceRepo   port.InvoiceRepository
	fixRecordRepo port.FixRecordRepository
	savings       SavingsService
	txManager     port.TransactionManager
	catalog       FixCatalog
	publisher     port.EventPublisher
	config        RemediationConfig
	logger        Logger
}

// NewRemediationService creates a new RemediationService
func NewRemediationService(
	findingRepo port.FindingRepository,
	invoiceRepo port.InvoiceRepository,
	fixRecordRepo port.FixRecordRepository,
	savings SavingsService,
	txManager port.TransactionManager,
	catalog FixCatalog,
	publisher port.EventPublisher,
	config RemediationConfig,
	logger Logger,
) RemediationService {
	defaults := DefaultRemediationConfig()
	if config.BulkConcurrency <= 0 {
		config.BulkConcurrency = defaults.BulkConcurrency
	}
	if config.MaxBulkSize <= 0 {
		config.MaxBulkSize = defaults.MaxBulkSize
	}
	if config.HourlyRate.IsNegative() || config.LaborMinutesPerFix < 0 {
		config.HourlyRate = defaults.HourlyRate
		config.LaborMinutesPerFix = defaults.LaborMinutesPerFix
	}

	return &remediationServiceImpl{
		findingRepo:   findingRepo,
		invoiceRepo:   invoiceRepo,
		fixRecordRepo: fixRecordRepo,
		savings:       savings,
		txManager:     txManager,
		catalog:       catalog,
		publisher:     publisher,
		config:        config,
		logger:        logger,
	}
}

// loadFixable returns the finding and its strategy after the checks shared
// by preview and execute
func (s *remediationServiceImpl) loadFixable(ctx context.Context, op, findingID string) (*entity.Finding, fixes.Strategy, error) {
	if findingID == "" {
		return nil, nil, apperr.Validation(op, "finding id is required")
	}

	finding, err := s.findingRepo.GetByID(ctx, findingID)
	if err != nil {
		return nil, nil, apperr.Persistence(op, err)
	}
	if finding == nil {
		return nil, nil, apperr.NotFound(op, "finding", findingID)
	}

	if !workflow.ForFinding(finding).CanFire(workflow.TriggerFix) {
		return nil, nil, apperr.New(apperr.KindAlreadyResolved, op,
			fmt.Sprintf("finding %s is %s", findingID, finding.Status))
	}

	strategy, ok := s.catalog.StrategyFor(finding.Category)
	if !ok || !finding.AutoFixable {
		return nil, nil, apperr.New(apperr.KindNotFixable, op,
			fmt.Sprintf("no automatic fix for %s", finding.Category))
	}

	return finding, strategy, nil
}

func (s *remediationServiceImpl) applyStrategy(op string, strategy fixes.Strategy, inv *entity.Invoice) (entity.FieldDiff, error) {
	diff, err := strategy.Apply(inv)
	if err != nil {
		return entity.FieldDiff{}, apperr.Wrap(apperr.KindNotFixable, op, err)
	}
	return diff, nil
}

// PreviewFix computes the correction and savings of a finding without
// persisting anything
func (s *remediationServiceImpl) PreviewFix(ctx context.Context, findingID string) (*FixPreview, error) {
	const op = "preview fix"

	finding, strategy, err := s.loadFixable(ctx, op, findingID)
	if err != nil {
		return nil, err
	}

	inv, err := s.invoiceRepo.GetByID(ctx, finding.InvoiceID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if inv == nil {
		return nil, apperr.NotFound(op, "invoice", finding.InvoiceID)
	}

	diff, err := s.applyStrategy(op, strategy, inv)
	if err != nil {
		return nil, err
	}
	if !diff.Changes() {
		return nil, staleFinding(op, finding, inv.ID)
	}

	labor := s.config.LaborCost()
	return &FixPreview{
		FindingID:        finding.ID,
		InvoiceID:        inv.ID,
		Category:         finding.Category,
		Diff:             diff,
		CorrectedInvoice: inv.WithFields(diff.After),
		PenaltyAvoided:   finding.PenaltyRisk,
		LaborCostAvoided: labor,
		SavingsAmount:    finding.PenaltyRisk.Add(labor),
		Period:           ledger.QuarterOf(nowUTC()),
	}, nil
}

// ExecuteFix applies the strategy of an open finding. The open→fixed
// compare-and-set is the linearization point: concurrent callers on the
// same finding see exactly one winner, the rest get AlreadyResolved.
func (s *remediationServiceImpl) ExecuteFix(ctx context.Context, findingID, actorID string) (*entity.FixRecord, error) {
	const op = "execute fix"

	if actorID == "" {
		return nil, apperr.Validation(op, "actor id is required")
	}

	finding, strategy, err := s.loadFixable(ctx, op, findingID)
	if err != nil {
		return nil, err
	}

	now := nowUTC()
	labor := s.config.LaborCost()
	rec := &entity.FixRecord{
		ID:               newID(),
		FindingID:        finding.ID,
		InvoiceID:        finding.InvoiceID,
		CompanyID:        finding.CompanyID,
		ActorID:          actorID,
		Kind:             entity.FixKindAuto,
		PenaltyAvoided:   finding.PenaltyRisk,
		LaborCostAvoided: labor,
		SavingsAmount:    finding.PenaltyRisk.Add(labor),
		Period:           ledger.QuarterOf(now),
		AppliedAt:        now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		won, err := s.findingRepo.TransitionStatus(txCtx, finding.ID, entity.FindingStatusOpen, entity.FindingStatusFixed, now)
		if err != nil {
			return err
		}
		if !won {
			return apperr.New(apperr.KindAlreadyResolved, op, fmt.Sprintf("finding %s was resolved concurrently", finding.ID))
		}

		inv, err := s.invoiceRepo.GetByID(txCtx, finding.InvoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return apperr.NotFound(op, "invoice", finding.InvoiceID)
		}

		diff, err := s.applyStrategy(op, strategy, inv)
		if err != nil {
			return err
		}
		// rolls back the transition; the finding stays open and nothing is credited
		if !diff.Changes() {
			return staleFinding(op, finding, inv.ID)
		}
		rec.Diff = diff

		if !diff.After.IsEmpty() {
			if err := s.invoiceRepo.UpdateFields(txCtx, inv.ID, diff.After); err != nil {
				return err
			}
		}

		if err := s.fixRecordRepo.Create(txCtx, rec); err != nil {
			return err
		}

		return s.savings.Credit(txCtx, rec.CompanyID, rec.Period, rec.PenaltyAvoided, rec.LaborCostAvoided, rec.Kind)
	})
	if err != nil {
		if apperr.KindOf(err) == "" {
			s.logger.Error("Fix transaction failed", "finding_id", finding.ID, "error", err)
		}
		return nil, classify(op, err)
	}

	s.logger.Info("Fix applied",
		"finding_id", finding.ID,
		"fix_record_id", rec.ID,
		"actor_id", actorID,
		"savings_amount", rec.SavingsAmount.String(),
	)

	publish(ctx, s.publisher, event.NewEvent(event.TypeFixApplied, rec.CompanyID, rec.ID, map[string]interface{}{
		"finding_id":     rec.FindingID,
		"invoice_id":     rec.InvoiceID,
		"actor_id":       actorID,
		"kind":           string(rec.Kind),
		"savings_amount": rec.SavingsAmount.String(),
		"period":         rec.Period,
	}))

	return rec, nil
}

// staleFinding reports a finding whose invoice no longer needs its correction,
// typically because another fix on the same invoice already repaired it
func staleFinding(op string, finding *entity.Finding, invoiceID string) error {
	return apperr.New(apperr.KindNotFixable, op,
		fmt.Sprintf("invoice %s no longer shows %s", invoiceID, finding.Category))
}

// BulkFix executes each finding independently with bounded concurrency.
// Item failures are reported in the result, never returned as an error.
func (s *remediationServiceImpl) BulkFix(ctx context.Context, findingIDs []string, actorID string) (*BulkFixResult, error) {
	const op = "bulk fix"

	if actorID == "" {
		return nil, apperr.Validation(op, "actor id is required")
	}
	if len(findingIDs) == 0 {
		return nil, apperr.Validation(op, "at least one finding id is required")
	}
	if len(findingIDs) > s.config.MaxBulkSize {
		return nil, apperr.Validation(op, "at most %d findings per request", s.config.MaxBulkSize)
	}

	type outcome struct {
		rec *entity.FixRecord
		err error
	}
	outcomes := make([]outcome, len(findingIDs))

	var g errgroup.Group
	g.SetLimit(s.config.BulkConcurrency)
	for i, id := range findingIDs {
		g.Go(func() error {
			rec, err := s.ExecuteFix(ctx, id, actorID)
			outcomes[i] = outcome{rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &BulkFixResult{
		Successful:   []BulkFixSuccess{},
		Failed:       []BulkFixFailure{},
		TotalSavings: decimal.Zero,
	}
	for i, o := range outcomes {
		if o.err != nil {
			reason := apperr.KindOf(o.err)
			if reason == "" {
				reason = apperr.KindPersistence
			}
			result.Failed = append(result.Failed, BulkFixFailure{
				ID:      findingIDs[i],
				Reason:  reason.String(),
				Message: o.err.Error(),
			})
			continue
		}
		result.Successful = append(result.Successful, BulkFixSuccess{
			FindingID:     findingIDs[i],
			FixRecordID:   o.rec.ID,
			SavingsAmount: o.rec.SavingsAmount,
		})
		result.TotalSavings = result.TotalSavings.Add(o.rec.SavingsAmount)
	}

	s.logger.Info("Bulk fix completed",
		"actor_id", actorID,
		"requested", len(findingIDs),
		"successful", len(result.Successful),
		"failed", len(result.Failed),
		"total_savings", result.TotalSavings.String(),
	)

	return result, nil
}

// UndoFix reverts an active fix: the invoice gets the inverse fields, the
// finding reopens and the ledger is debited by the recorded amounts in the
// recorded period.
func (s *remediationServiceImpl) UndoFix(ctx context.Context, fixRecordID, actorID string) (*entity.FixRecord, error) {
	const op = "undo fix"

	if fixRecordID == "" {
		return nil, apperr.Validation(op, "fix record id is required")
	}
	if actorID == "" {
		return nil, apperr.Validation(op, "actor id is required")
	}

	rec, err := s.fixRecordRepo.GetByID(ctx, fixRecordID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if rec == nil {
		return nil, apperr.NotFound(op, "fix record", fixRecordID)
	}
	if !rec.IsActive() {
		return nil, apperr.New(apperr.KindAlreadyUndone, op, fmt.Sprintf("fix %s was already undone", fixRecordID))
	}

	now := nowUTC()
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.checkUndoOrder(txCtx, op, rec); err != nil {
			return err
		}

		won, err := s.fixRecordRepo.MarkUndone(txCtx, rec.ID, actorID, now)
		if err != nil {
			return err
		}
		if !won {
			return apperr.New(apperr.KindAlreadyUndone, op, fmt.Sprintf("fix %s was undone concurrently", rec.ID))
		}

		finding, err := s.findingRepo.GetByID(txCtx, rec.FindingID)
		if err != nil {
			return err
		}
		if finding == nil {
			return apperr.NotFound(op, "finding", rec.FindingID)
		}

		machine := workflow.ForFinding(finding)
		if err := machine.Fire(txCtx, workflow.TriggerUndo); err != nil {
			return fmt.Errorf("finding %s with active fix: %w", finding.ID, err)
		}

		won, err = s.findingRepo.TransitionStatus(txCtx, finding.ID, entity.FindingStatusFixed, machine.State().Status(), now)
		if err != nil {
			return err
		}
		if !won {
			return fmt.Errorf("finding %s left the fixed state during undo", finding.ID)
		}

		if restore := s.inverse(finding.Category, rec.Diff); !restore.IsEmpty() {
			if err := s.invoiceRepo.UpdateFields(txCtx, rec.InvoiceID, restore); err != nil {
				return err
			}
		}

		return s.savings.Debit(txCtx, rec.CompanyID, rec.Period, rec.PenaltyAvoided, rec.LaborCostAvoided, rec.Kind)
	})
	if err != nil {
		if apperr.KindOf(err) == "" {
			s.logger.Error("Undo transaction failed", "fix_record_id", rec.ID, "error", err)
		}
		return nil, classify(op, err)
	}

	rec.UndoneAt = &now
	rec.UndoneBy = actorID

	s.logger.Info("Fix undone",
		"fix_record_id", rec.ID,
		"finding_id", rec.FindingID,
		"actor_id", actorID,
		"savings_amount", rec.SavingsAmount.String(),
	)

	publish(ctx, s.publisher, event.NewEvent(event.TypeFixUndone, rec.CompanyID, rec.ID, map[string]interface{}{
		"finding_id":     rec.FindingID,
		"invoice_id":     rec.InvoiceID,
		"actor_id":       actorID,
		"savings_amount": rec.SavingsAmount.String(),
		"period":         rec.Period,
	}))

	return rec, nil
}

// checkUndoOrder refuses to undo rec while a fix applied after it on the same
// invoice still holds any of the fields rec restores. Undoing in reverse order
// always succeeds.
func (s *remediationServiceImpl) checkUndoOrder(ctx context.Context, op string, rec *entity.FixRecord) error {
	if rec.Diff.After.IsEmpty() {
		return nil
	}

	active, err := s.fixRecordRepo.ListActiveByInvoice(ctx, rec.InvoiceID)
	if err != nil {
		return err
	}

	later := false
	for _, other := range active {
		if other.ID == rec.ID {
			later = true
			continue
		}
		if later && other.Diff.After.Overlaps(rec.Diff.After) {
			return apperr.New(apperr.KindConflict, op,
				fmt.Sprintf("fix %s on invoice %s changed the same fields later and must be undone first", other.ID, rec.InvoiceID))
		}
	}
	return nil
}

// inverse resolves the fields that restore the invoice; manual fixes carry
// an empty diff and restore nothing
func (s *remediationServiceImpl) inverse(category entity.FindingCategory, diff entity.FieldDiff) entity.InvoiceFields {
	if diff.IsEmpty() {
		return entity.InvoiceFields{}
	}
	if strategy, ok := s.catalog.StrategyFor(category); ok {
		return strategy.Invert(diff)
	}
	return diff.Before
}

// RejectFinding closes an open finding without fixing it. Rejection is
// terminal.
func (s *remediationServiceImpl) RejectFinding(ctx context.Context, findingID, actorID, reason string) (*entity.Finding, error) {
	const op = "reject finding"

	if findingID == "" {
		return nil, apperr.Validation(op, "finding id is required")
	}
	if actorID == "" {
		return nil, apperr.Validation(op, "actor id is required")
	}

	finding, err := s.findingRepo.GetByID(ctx, findingID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if finding == nil {
		return nil, apperr.NotFound(op, "finding", findingID)
	}

	machine := workflow.ForFinding(finding)
	if err := machine.Fire(ctx, workflow.TriggerReject); err != nil {
		return nil, apperr.Wrap(apperr.KindAlreadyResolved, op, err)
	}

	now := nowUTC()
	won, err := s.findingRepo.TransitionStatus(ctx, finding.ID, entity.FindingStatusOpen, machine.State().Status(), now)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if !won {
		return nil, apperr.New(apperr.KindAlreadyResolved, op, fmt.Sprintf("finding %s was resolved concurrently", finding.ID))
	}

	finding.Status = entity.FindingStatusRejected
	finding.Resolved = false
	finding.ResolvedAt = nil

	s.logger.Info("Finding rejected", "finding_id", finding.ID, "actor_id", actorID, "reason", reason)

	publish(ctx, s.publisher, event.NewEvent(event.TypeFindingRejected, finding.CompanyID, finding.ID, map[string]interface{}{
		"invoice_id": finding.InvoiceID,
		"category":   string(finding.Category),
		"actor_id":   actorID,
		"reason":     reason,
	}))

	return finding, nil
}

// ResolveManually records that an operator corrected the invoice outside
// the system. It credits the penalty avoided but no labor, and can be
// undone like an automatic fix.
func (s *remediationServiceImpl) ResolveManually(ctx context.Context, findingID, actorID, note string) (*entity.FixRecord, error) {
	const op = "resolve manually"

	if findingID == "" {
		return nil, apperr.Validation(op, "finding id is required")
	}
	if actorID == "" {
		return nil, apperr.Validation(op, "actor id is required")
	}

	finding, err := s.findingRepo.GetByID(ctx, findingID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if finding == nil {
		return nil, apperr.NotFound(op, "finding", findingID)
	}
	if !workflow.ForFinding(finding).CanFire(workflow.TriggerResolve) {
		return nil, apperr.New(apperr.KindAlreadyResolved, op,
			fmt.Sprintf("finding %s is %s", findingID, finding.Status))
	}

	now := nowUTC()
	rec := &entity.FixRecord{
		ID:               newID(),
		FindingID:        finding.ID,
		InvoiceID:        finding.InvoiceID,
		CompanyID:        finding.CompanyID,
		ActorID:          actorID,
		Kind:             entity.FixKindManual,
		Note:             note,
		PenaltyAvoided:   finding.PenaltyRisk,
		LaborCostAvoided: decimal.Zero,
		SavingsAmount:    finding.PenaltyRisk,
		Period:           ledger.QuarterOf(now),
		AppliedAt:        now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		won, err := s.findingRepo.TransitionStatus(txCtx, finding.ID, entity.FindingStatusOpen, entity.FindingStatusFixed, now)
		if err != nil {
			return err
		}
		if !won {
			return apperr.New(apperr.KindAlreadyResolved, op, fmt.Sprintf("finding %s was resolved concurrently", finding.ID))
		}

		if err := s.fixRecordRepo.Create(txCtx, rec); err != nil {
			return err
		}

		return s.savings.Credit(txCtx, rec.CompanyID, rec.Period, rec.PenaltyAvoided, rec.LaborCostAvoided, rec.Kind)
	})
	if err != nil {
		if apperr.KindOf(err) == "" {
			s.logger.Error("Manual resolution failed", "finding_id", finding.ID, "error", err)
		}
		return nil, classify(op, err)
	}

	s.logger.Info("Finding resolved manually", "finding_id", finding.ID, "fix_record_id", rec.ID, "actor_id", actorID)

	publish(ctx, s.publisher, event.NewEvent(event.TypeFixApplied, rec.CompanyID, rec.ID, map[string]interface{}{
		"finding_id":     rec.FindingID,
		"invoice_id":     rec.InvoiceID,
		"actor_id":       actorID,
		"kind":           string(rec.Kind),
		"savings_amount": rec.SavingsAmount.String(),
		"period":         rec.Period,
	}))

	return rec, nil
}

// ListFixHistory returns every fix applied to a finding, oldest first
func (s *remediationServiceImpl) ListFixHistory(ctx context.Context, findingID string) ([]*entity.FixRecord, error) {
	const op = "list fix history"

	if findingID == "" {
		return nil, apperr.Validation(op, "finding id is required")
	}

	finding, err := s.findingRepo.GetByID(ctx, findingID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if finding == nil {
		return nil, apperr.NotFound(op, "finding", findingID)
	}

	records, err := s.fixRecordRepo.ListByFinding(ctx, findingID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if records == nil {
		records = []*entity.FixRecord{}
	}
	return records, nil
}
