package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Finding is one detected compliance violation on one invoice.
// Resolved is true exactly when an active FixRecord exists.
type Finding struct {
	ID          string          `json:"id"`
	UploadID    string          `json:"upload_id"`
	CompanyID   string          `json:"company_id"`
	InvoiceID   string          `json:"invoice_id"`
	Category    FindingCategory `json:"category"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
	PenaltyRisk decimal.Decimal `json:"penalty_risk"`
	AutoFixable bool            `json:"auto_fixable"`
	Resolved    bool            `json:"resolved"`
	Status      FindingStatus   `json:"status"`
	Advisory    *Advisory       `json:"advisory,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// DedupKey identifies the condition a finding reports
func (f *Finding) DedupKey() DedupKey {
	return DedupKey{InvoiceID: f.InvoiceID, Category: f.Category}
}

// DedupKey is the (invoice, category) pair detection deduplicates on
type DedupKey struct {
	InvoiceID string
	Category  FindingCategory
}

// Advisory is non-authoritative enrichment attached by the advisory pass.
// It never changes Severity or PenaltyRisk.
type Advisory struct {
	ConfidenceMultiplier float64  `json:"confidence_multiplier"`
	EffectivePriority    Severity `json:"effective_priority"`
	Insight              string   `json:"insight"`
	Fallback             bool     `json:"fallback"`
}

// Candidate is a finding produced by the rule engine before persistence
type Candidate struct {
	InvoiceID   string          `json:"invoice_id"`
	Category    FindingCategory `json:"category"`
	Severity    Severity        `json:"severity"`
	Message     string          `json:"message"`
	PenaltyRisk decimal.Decimal `json:"penalty_risk"`
	AutoFixable bool            `json:"auto_fixable"`
	Advisory    *Advisory       `json:"advisory,omitempty"`
}

// DedupKey identifies the condition a candidate reports
func (c *Candidate) DedupKey() DedupKey {
	return DedupKey{InvoiceID: c.InvoiceID, Category: c.Category}
}

// FindingFilter narrows finding queries. Zero values mean "any".
type FindingFilter struct {
	UploadID  string
	CompanyID string
	InvoiceID string
	Severity  Severity
	Status    FindingStatus
	Resolved  *bool
	Limit     int
	Offset    int
}

// DetectionAnomaly records an invoice whose rule evaluation failed
type DetectionAnomaly struct {
	ID        string    `json:"id"`
	UploadID  string    `json:"upload_id"`
	InvoiceID string    `json:"invoice_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
