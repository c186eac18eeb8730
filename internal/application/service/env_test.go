package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/fixes"
	"github.com/garyjia/vat-compliance/internal/domain/rules"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]*HealthScore
}

func (c *mapCache) Get(key string) (*HealthScore, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *mapCache) Set(key string, v *HealthScore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = v
}

func (c *mapCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

type testEnv struct {
	store     *memStore
	tx        *memTx
	publisher *recordingPublisher
	locker    *mockLocker
	augmenter *mockAugmenter
	engine    *rules.Engine

	detection   DetectionService
	remediation RemediationService
	savings     SavingsService
	uploads     UploadService
	findings    FindingService
	health      HealthService
}

type envOption func(*envConfig)

type envConfig struct {
	evaluator RuleEvaluator
	savings   SavingsConfig
}

func withEvaluator(ev RuleEvaluator) envOption {
	return func(c *envConfig) { c.evaluator = ev }
}

func withServiceCost(cost string) envOption {
	return func(c *envConfig) { c.savings.ServiceCostPerPeriod = dec(cost) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	engine := rules.NewEngine(nil)
	cfg := envConfig{evaluator: engine}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := newMemStore()
	env := &testEnv{
		store:     store,
		tx:        &memTx{store: store},
		publisher: &recordingPublisher{},
		locker:    &mockLocker{},
		augmenter: &mockAugmenter{},
		engine:    engine,
	}
	logger := &mockLogger{}

	uploads := &memUploadRepo{s: store}
	invoices := &memInvoiceRepo{s: store}
	findings := &memFindingRepo{s: store}
	fixRecords := &memFixRecordRepo{s: store}
	anomalies := &memAnomalyRepo{s: store}

	env.savings = NewSavingsService(&memSavingsRepo{s: store}, cfg.savings, logger)
	env.detection = NewDetectionService(uploads, invoices, findings, anomalies, env.tx,
		cfg.evaluator, env.augmenter, env.locker, env.publisher, DefaultDetectionConfig(), logger)
	env.remediation = NewRemediationService(findings, invoices, fixRecords, env.savings, env.tx,
		fixes.NewCatalog(engine.Rates()), env.publisher, DefaultRemediationConfig(), logger)
	env.uploads = NewUploadService(uploads, invoices, anomalies, env.tx, env.publisher, logger)
	env.findings = NewFindingService(findings, logger)
	env.health = NewHealthService(findings, &mapCache{items: make(map[string]*HealthScore)}, logger)

	return env
}

func (e *testEnv) seedUpload(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, (&memUploadRepo{s: e.store}).Create(context.Background(), &entity.Upload{
		ID: id, CompanyID: "acme", Status: entity.UploadStatusPending, CreatedAt: time.Now(),
	}))
}

func (e *testEnv) seedInvoice(t *testing.T, inv *entity.Invoice) {
	t.Helper()
	require.NoError(t, (&memInvoiceRepo{s: e.store}).Create(context.Background(), inv))
}

// detectOne seeds an upload holding inv, runs detection and returns the
// finding of the given category
func (e *testEnv) detectOne(t *testing.T, uploadID string, inv *entity.Invoice, category entity.FindingCategory) *entity.Finding {
	t.Helper()
	if u, _ := (&memUploadRepo{s: e.store}).GetByID(context.Background(), uploadID); u == nil {
		e.seedUpload(t, uploadID)
	}
	inv.UploadID = uploadID
	e.seedInvoice(t, inv)

	result, err := e.detection.Detect(context.Background(), uploadID, false)
	require.NoError(t, err)
	for _, f := range result.Findings {
		if f.InvoiceID == inv.ID && f.Category == category {
			return f
		}
	}
	t.Fatalf("no %s finding for invoice %s", category, inv.ID)
	return nil
}

// missingVATIDInvoice is a cross-border B2B supply to Germany without the
// customer's VAT id
func missingVATIDInvoice(id string) *entity.Invoice {
	return &entity.Invoice{
		ID:              id,
		CompanyID:       "acme",
		InvoiceNumber:   "INV-" + id,
		IssueDate:       time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
		SupplierCountry: "FR",
		CustomerCountry: "DE",
		SupplyCategory:  entity.SupplyCrossBorderB2B,
		ProductCategory: entity.ProductStandard,
		NetAmount:       dec("1000"),
		VATRate:         dec("0"),
		VATAmount:       dec("0"),
		TotalAmount:     dec("1000"),
	}
}

// roundingInvoice is a domestic German invoice whose total is off by one
func roundingInvoice(id string) *entity.Invoice {
	return &entity.Invoice{
		ID:              id,
		CompanyID:       "acme",
		InvoiceNumber:   "INV-" + id,
		SupplierCountry: "DE",
		CustomerCountry: "DE",
		SupplyCategory:  entity.SupplyDomestic,
		ProductCategory: entity.ProductStandard,
		NetAmount:       dec("100.00"),
		VATRate:         dec("19"),
		VATAmount:       dec("19.00"),
		TotalAmount:     dec("120.00"),
	}
}

// reducedRateInvoice is a domestic German sale of standard goods billed at
// the reduced rate whose total is also off, so it carries both a rate and a
// rounding finding
func reducedRateInvoice(id string) *entity.Invoice {
	return &entity.Invoice{
		ID:              id,
		CompanyID:       "acme",
		InvoiceNumber:   "INV-" + id,
		SupplierCountry: "DE",
		CustomerCountry: "DE",
		SupplyCategory:  entity.SupplyDomestic,
		ProductCategory: entity.ProductStandard,
		NetAmount:       dec("100.00"),
		VATRate:         dec("7"),
		VATAmount:       dec("7.00"),
		TotalAmount:     dec("110.00"),
	}
}

// detectBoth seeds inv and returns its rounding and rate findings
func (e *testEnv) detectBoth(t *testing.T, inv *entity.Invoice) (rounding, rate *entity.Finding) {
	t.Helper()
	rounding = e.detectOne(t, "up-1", inv, entity.CategoryRoundingMismatch)
	list, err := e.findings.ListFindings(context.Background(), entity.FindingFilter{UploadID: "up-1"})
	require.NoError(t, err)
	for _, f := range list {
		if f.InvoiceID == inv.ID && f.Category == entity.CategoryInvalidRateForCategory {
			return rounding, f
		}
	}
	t.Fatalf("no rate finding for invoice %s", inv.ID)
	return nil, nil
}

// badVATIDInvoice is a domestic invoice whose customer VAT id has the wrong
// country prefix; the finding is not auto-fixable
func badVATIDInvoice(id string) *entity.Invoice {
	return &entity.Invoice{
		ID:              id,
		CompanyID:       "acme",
		InvoiceNumber:   "INV-" + id,
		SupplierCountry: "DE",
		CustomerCountry: "DE",
		CustomerVATID:   "XX1234",
		SupplyCategory:  entity.SupplyDomestic,
		ProductCategory: entity.ProductStandard,
		NetAmount:       dec("100.00"),
		VATRate:         dec("19"),
		VATAmount:       dec("19.00"),
		TotalAmount:     dec("119.00"),
	}
}
