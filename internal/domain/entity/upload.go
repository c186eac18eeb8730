package entity

import "time"

// Upload groups the invoices ingested together and tracks their detection run
type Upload struct {
	ID            string       `json:"id"`
	CompanyID     string       `json:"company_id"`
	SourceName    string       `json:"source_name"`
	InvoiceCount  int          `json:"invoice_count"`
	Status        UploadStatus `json:"status"`
	UseAdvisory   bool         `json:"use_advisory"`
	FindingsCount int          `json:"findings_count"`
	AnomalyCount  int          `json:"anomaly_count"`
	Error         string       `json:"error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}
