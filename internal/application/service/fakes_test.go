package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/event"
	"github.com/shopspring/decimal"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// memStore is an in-memory stand-in for the SQLite repositories. Every
// method locks mu; memTx snapshots the maps and restores them on error.
type memStore struct {
	mu        sync.Mutex
	seq       int
	uploads   map[string]entity.Upload
	invoices  map[string]entity.Invoice
	findings  map[string]entity.Finding
	fixes     map[string]entity.FixRecord
	savings   map[string]entity.SavingsSnapshot
	anomalies map[string]entity.DetectionAnomaly
	order     map[string]int

	// failOn makes the named method return the error
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		uploads:   make(map[string]entity.Upload),
		invoices:  make(map[string]entity.Invoice),
		findings:  make(map[string]entity.Finding),
		fixes:     make(map[string]entity.FixRecord),
		savings:   make(map[string]entity.SavingsSnapshot),
		anomalies: make(map[string]entity.DetectionAnomaly),
		order:     make(map[string]int),
		failOn:    make(map[string]error),
	}
}

type memSnapshot struct {
	seq       int
	uploads   map[string]entity.Upload
	invoices  map[string]entity.Invoice
	findings  map[string]entity.Finding
	fixes     map[string]entity.FixRecord
	savings   map[string]entity.SavingsSnapshot
	anomalies map[string]entity.DetectionAnomaly
	order     map[string]int
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{
		seq:       s.seq,
		uploads:   copyMap(s.uploads),
		invoices:  copyMap(s.invoices),
		findings:  copyMap(s.findings),
		fixes:     copyMap(s.fixes),
		savings:   copyMap(s.savings),
		anomalies: copyMap(s.anomalies),
		order:     copyMap(s.order),
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = snap.seq
	s.uploads = snap.uploads
	s.invoices = snap.invoices
	s.findings = snap.findings
	s.fixes = snap.fixes
	s.savings = snap.savings
	s.anomalies = snap.anomalies
	s.order = snap.order
}

func (s *memStore) fail(method string) error {
	return s.failOn[method]
}

func (s *memStore) setFail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[method] = err
}

func (s *memStore) next(id string) {
	s.seq++
	s.order[id] = s.seq
}

// invoice returns a copy of the stored invoice for assertions
func (s *memStore) invoice(id string) entity.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id]
}

func (s *memStore) finding(id string) entity.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findings[id]
}

func (s *memStore) snapshotFor(companyID, period string) entity.SavingsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savings[companyID+"|"+period]
}

func (s *memStore) activeFixes(findingID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.fixes {
		if r.FindingID == findingID && r.UndoneAt == nil {
			n++
		}
	}
	return n
}

func (s *memStore) sortedIDs(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool { return s.order[ids[i]] < s.order[ids[j]] })
	return ids
}

type txKey struct{}

// memTx serializes transactions and rolls back on error
type memTx struct {
	store *memStore
	mu    sync.Mutex
}

func (m *memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.store.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type memUploadRepo struct{ s *memStore }

func (r *memUploadRepo) Create(ctx context.Context, u *entity.Upload) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("uploads.Create"); err != nil {
		return err
	}
	r.s.uploads[u.ID] = *u
	r.s.next(u.ID)
	return nil
}

func (r *memUploadRepo) GetByID(ctx context.Context, id string) (*entity.Upload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.uploads[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *memUploadRepo) ListByStatus(ctx context.Context, status entity.UploadStatus, limit int) ([]*entity.Upload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, u := range r.s.uploads {
		if u.Status == status {
			ids = append(ids, id)
		}
	}
	var out []*entity.Upload
	for _, id := range r.s.sortedIDs(ids) {
		u := r.s.uploads[id]
		out = append(out, &u)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memUploadRepo) Enqueue(ctx context.Context, id string, useAdvisory bool) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.uploads[id]
	if !ok || u.Status == entity.UploadStatusQueued || u.Status == entity.UploadStatusProcessing {
		return false, nil
	}
	u.Status = entity.UploadStatusQueued
	u.UseAdvisory = useAdvisory
	u.Error = ""
	r.s.uploads[id] = u
	return true, nil
}

func (r *memUploadRepo) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.uploads[id]
	if !ok || u.Status != entity.UploadStatusQueued {
		return false, nil
	}
	u.Status = entity.UploadStatusProcessing
	u.StartedAt = &at
	u.CompletedAt = nil
	r.s.uploads[id] = u
	return true, nil
}

func (r *memUploadRepo) Finish(ctx context.Context, id string, status entity.UploadStatus, findings, anomalies int, errMsg string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u := r.s.uploads[id]
	u.Status = status
	u.FindingsCount = findings
	u.AnomalyCount = anomalies
	u.Error = errMsg
	u.CompletedAt = &at
	r.s.uploads[id] = u
	return nil
}

func (r *memUploadRepo) RequeueStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, u := range r.s.uploads {
		if u.Status == entity.UploadStatusProcessing && u.StartedAt != nil && u.StartedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	ids = r.s.sortedIDs(ids)
	for _, id := range ids {
		u := r.s.uploads[id]
		u.Status = entity.UploadStatusQueued
		u.StartedAt = nil
		r.s.uploads[id] = u
	}
	return ids, nil
}

type memInvoiceRepo struct{ s *memStore }

func (r *memInvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("invoices.Create"); err != nil {
		return err
	}
	r.s.invoices[inv.ID] = *inv
	r.s.next(inv.ID)
	return nil
}

func (r *memInvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r *memInvoiceRepo) ListByUpload(ctx context.Context, uploadID string) ([]*entity.Invoice, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, inv := range r.s.invoices {
		if inv.UploadID == uploadID {
			ids = append(ids, id)
		}
	}
	var out []*entity.Invoice
	for _, id := range r.s.sortedIDs(ids) {
		inv := r.s.invoices[id]
		out = append(out, &inv)
	}
	return out, nil
}

func (r *memInvoiceRepo) UpdateFields(ctx context.Context, id string, fields entity.InvoiceFields) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("invoices.UpdateFields"); err != nil {
		return err
	}
	inv, ok := r.s.invoices[id]
	if !ok {
		return fmt.Errorf("invoice %s not found", id)
	}
	r.s.invoices[id] = inv.WithFields(fields)
	return nil
}

type memFindingRepo struct{ s *memStore }

func (r *memFindingRepo) Create(ctx context.Context, f *entity.Finding) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("findings.Create"); err != nil {
		return false, err
	}
	for _, existing := range r.s.findings {
		if existing.DedupKey() == f.DedupKey() {
			return false, nil
		}
	}
	r.s.findings[f.ID] = *f
	r.s.next(f.ID)
	return true, nil
}

func (r *memFindingRepo) GetByID(ctx context.Context, id string) (*entity.Finding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.findings[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r *memFindingRepo) List(ctx context.Context, filter entity.FindingFilter) ([]*entity.Finding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, f := range r.s.findings {
		if filter.UploadID != "" && f.UploadID != filter.UploadID {
			continue
		}
		if filter.CompanyID != "" && f.CompanyID != filter.CompanyID {
			continue
		}
		if filter.InvoiceID != "" && f.InvoiceID != filter.InvoiceID {
			continue
		}
		if filter.Severity != "" && f.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		ids = append(ids, id)
	}
	var out []*entity.Finding
	for _, id := range r.s.sortedIDs(ids) {
		f := r.s.findings[id]
		out = append(out, &f)
	}
	return out, nil
}

func (r *memFindingRepo) ListByInvoices(ctx context.Context, invoiceIDs []string) ([]*entity.Finding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[string]bool, len(invoiceIDs))
	for _, id := range invoiceIDs {
		wanted[id] = true
	}
	var ids []string
	for id, f := range r.s.findings {
		if wanted[f.InvoiceID] {
			ids = append(ids, id)
		}
	}
	var out []*entity.Finding
	for _, id := range r.s.sortedIDs(ids) {
		f := r.s.findings[id]
		out = append(out, &f)
	}
	return out, nil
}

func (r *memFindingRepo) TransitionStatus(ctx context.Context, id string, from, to entity.FindingStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("findings.TransitionStatus"); err != nil {
		return false, err
	}
	f, ok := r.s.findings[id]
	if !ok || f.Status != from {
		return false, nil
	}
	f.Status = to
	f.Resolved = to == entity.FindingStatusFixed
	f.ResolvedAt = nil
	if f.Resolved {
		f.ResolvedAt = &at
	}
	r.s.findings[id] = f
	return true, nil
}

func (r *memFindingRepo) CountUnresolvedBySeverity(ctx context.Context, companyID string) (map[entity.Severity]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("findings.CountUnresolvedBySeverity"); err != nil {
		return nil, err
	}
	out := make(map[entity.Severity]int)
	for _, f := range r.s.findings {
		if f.CompanyID == companyID && f.Status == entity.FindingStatusOpen {
			out[f.Severity]++
		}
	}
	return out, nil
}

type memFixRecordRepo struct{ s *memStore }

func (r *memFixRecordRepo) Create(ctx context.Context, rec *entity.FixRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("fixes.Create"); err != nil {
		return err
	}
	for _, existing := range r.s.fixes {
		if existing.FindingID == rec.FindingID && existing.UndoneAt == nil {
			return fmt.Errorf("active fix already exists for finding %s", rec.FindingID)
		}
	}
	r.s.fixes[rec.ID] = *rec
	r.s.next(rec.ID)
	return nil
}

func (r *memFixRecordRepo) GetByID(ctx context.Context, id string) (*entity.FixRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.fixes[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memFixRecordRepo) ListByFinding(ctx context.Context, findingID string) ([]*entity.FixRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, rec := range r.s.fixes {
		if rec.FindingID == findingID {
			ids = append(ids, id)
		}
	}
	var out []*entity.FixRecord
	for _, id := range r.s.sortedIDs(ids) {
		rec := r.s.fixes[id]
		out = append(out, &rec)
	}
	return out, nil
}

func (r *memFixRecordRepo) ListActiveByInvoice(ctx context.Context, invoiceID string) ([]*entity.FixRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, rec := range r.s.fixes {
		if rec.InvoiceID == invoiceID && rec.UndoneAt == nil {
			ids = append(ids, id)
		}
	}
	var out []*entity.FixRecord
	for _, id := range r.s.sortedIDs(ids) {
		rec := r.s.fixes[id]
		out = append(out, &rec)
	}
	return out, nil
}

func (r *memFixRecordRepo) MarkUndone(ctx context.Context, id, actorID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.fixes[id]
	if !ok || rec.UndoneAt != nil {
		return false, nil
	}
	rec.UndoneAt = &at
	rec.UndoneBy = actorID
	r.s.fixes[id] = rec
	return true, nil
}

type memSavingsRepo struct{ s *memStore }

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func floorZeroInt(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func (r *memSavingsRepo) Apply(ctx context.Context, companyID, period string, delta entity.SavingsDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("savings.Apply"); err != nil {
		return err
	}
	key := companyID + "|" + period
	snap, ok := r.s.savings[key]
	if !ok {
		snap = entity.SavingsSnapshot{CompanyID: companyID, Period: period}
		r.s.next(key)
	}
	snap.PenaltyAvoided = floorZero(snap.PenaltyAvoided.Add(delta.PenaltyAvoided))
	snap.LaborCostAvoided = floorZero(snap.LaborCostAvoided.Add(delta.LaborCostAvoided))
	snap.TotalSavings = snap.PenaltyAvoided.Add(snap.LaborCostAvoided)
	snap.AutoFixes = floorZeroInt(snap.AutoFixes + delta.AutoFixes)
	snap.ManualFixes = floorZeroInt(snap.ManualFixes + delta.ManualFixes)
	snap.UpdatedAt = time.Now().UTC()
	r.s.savings[key] = snap
	return nil
}

func (r *memSavingsRepo) Get(ctx context.Context, companyID, period string) (*entity.SavingsSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snap, ok := r.s.savings[companyID+"|"+period]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (r *memSavingsRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.SavingsSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.SavingsSnapshot
	for _, snap := range r.s.savings {
		if snap.CompanyID == companyID {
			snap := snap
			out = append(out, &snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

type memAnomalyRepo struct{ s *memStore }

func (r *memAnomalyRepo) Create(ctx context.Context, a *entity.DetectionAnomaly) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.anomalies {
		if existing.UploadID == a.UploadID && existing.InvoiceID == a.InvoiceID {
			return nil
		}
	}
	r.s.anomalies[a.ID] = *a
	r.s.next(a.ID)
	return nil
}

func (r *memAnomalyRepo) ListByUpload(ctx context.Context, uploadID string) ([]*entity.DetectionAnomaly, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, a := range r.s.anomalies {
		if a.UploadID == uploadID {
			ids = append(ids, id)
		}
	}
	var out []*entity.DetectionAnomaly
	for _, id := range r.s.sortedIDs(ids) {
		a := r.s.anomalies[id]
		out = append(out, &a)
	}
	return out, nil
}

type mockLock struct {
	releaseFunc func(ctx context.Context) error
}

func (l *mockLock) Release(ctx context.Context) error {
	if l.releaseFunc != nil {
		return l.releaseFunc(ctx)
	}
	return nil
}

type mockLocker struct {
	mu         sync.Mutex
	keys       []string
	obtainFunc func(ctx context.Context, key string, ttl time.Duration) (port.Lock, error)
}

func (m *mockLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (port.Lock, error) {
	m.mu.Lock()
	m.keys = append(m.keys, key)
	m.mu.Unlock()
	if m.obtainFunc != nil {
		return m.obtainFunc(ctx, key, ttl)
	}
	return &mockLock{}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type mockAugmenter struct {
	calls       int
	augmentFunc func(ctx context.Context, candidates []*entity.Candidate) ([]*entity.Candidate, bool)
}

func (m *mockAugmenter) Augment(ctx context.Context, candidates []*entity.Candidate) ([]*entity.Candidate, bool) {
	m.calls++
	if m.augmentFunc != nil {
		return m.augmentFunc(ctx, candidates)
	}
	return candidates, false
}

var (
	_ port.UploadRepository    = (*memUploadRepo)(nil)
	_ port.InvoiceRepository   = (*memInvoiceRepo)(nil)
	_ port.FindingRepository   = (*memFindingRepo)(nil)
	_ port.FixRecordRepository = (*memFixRecordRepo)(nil)
	_ port.SavingsRepository   = (*memSavingsRepo)(nil)
	_ port.AnomalyRepository   = (*memAnomalyRepo)(nil)
	_ port.TransactionManager  = (*memTx)(nil)
	_ port.Locker              = (*mockLocker)(nil)
	_ port.EventPublisher      = (*recordingPublisher)(nil)
	_ port.Augmenter           = (*mockAugmenter)(nil)
)
