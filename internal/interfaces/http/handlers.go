package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/vat-compliance/internal/application/service"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	health   HealthCheckFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthCheckFunc, logger Logger) *Handlers {
	return &Handlers{
		services: services,
		health:   health,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// DetectRequest is the optional body of detect and enqueue calls
type DetectRequest struct {
	UseAdvisory bool `json:"use_advisory"`
}

// BulkFixRequest lists the findings to fix in one call
type BulkFixRequest struct {
	FindingIDs []string `json:"finding_ids" binding:"required,min=1"`
}

// RejectRequest carries the reason a finding is dismissed
type RejectRequest struct {
	Reason string `json:"reason"`
}

// ResolveRequest carries the note of a manual resolution
type ResolveRequest struct {
	Note string `json:"note"`
}

// ListFindingsRequest represents query parameters for listing findings
type ListFindingsRequest struct {
	UploadID  string `form:"upload_id"`
	CompanyID string `form:"company_id"`
	InvoiceID string `form:"invoice_id"`
	Severity  string `form:"severity"`
	Status    string `form:"status"`
	Resolved  *bool  `form:"resolved"`
	GroupBy   string `form:"group_by"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// GroupedFindingsResponse pairs findings with their category rollup
type GroupedFindingsResponse struct {
	Findings []*entity.Finding       `json:"findings"`
	Groups   []service.CategoryGroup `json:"groups"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy := true
	var components map[string]string
	if h.health != nil {
		healthy, components = h.health(c.Request.Context())
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    "1.0.0",
		Components: components,
	}

	if !healthy {
		response.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    response,
			Error:   "one or more components are unhealthy",
		})
		return
	}

	writeOK(c, response)
}

// CreateUpload handles POST /api/uploads
func (h *Handlers) CreateUpload(c *gin.Context) {
	var req service.CreateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid upload body", "error", err)
		writeError(c, apperr.Validation("create upload", "invalid request body: %v", err))
		return
	}

	upload, err := h.services.Uploads.CreateUpload(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to create upload", "company_id", req.CompanyID, "error", err)
		writeError(c, err)
		return
	}

	writeCreated(c, upload)
}

// GetUpload handles GET /api/uploads/:id
func (h *Handlers) GetUpload(c *gin.Context) {
	upload, err := h.services.Uploads.GetUpload(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, upload)
}

// ListUploadInvoices handles GET /api/uploads/:id/invoices
func (h *Handlers) ListUploadInvoices(c *gin.Context) {
	invoices, err := h.services.Uploads.ListInvoices(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, invoices)
}

// ListUploadAnomalies handles GET /api/uploads/:id/anomalies
func (h *Handlers) ListUploadAnomalies(c *gin.Context) {
	anomalies, err := h.services.Uploads.ListAnomalies(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, anomalies)
}

// EnqueueDetection handles POST /api/uploads/:id/enqueue
func (h *Handlers) EnqueueDetection(c *gin.Context) {
	var req DetectRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, apperr.Validation("enqueue detection", "invalid request body: %v", err))
		return
	}

	upload, err := h.services.Uploads.EnqueueDetection(c.Request.Context(), c.Param("id"), req.UseAdvisory)
	if err != nil {
		h.logger.Error("Failed to enqueue detection", "upload_id", c.Param("id"), "error", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, Response{Success: true, Data: upload})
}

// Detect handles POST /api/uploads/:id/detect
func (h *Handlers) Detect(c *gin.Context) {
	var req DetectRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, apperr.Validation("detect", "invalid request body: %v", err))
		return
	}

	uploadID := c.Param("id")
	h.logger.Info("Running detection", "upload_id", uploadID, "use_advisory", req.UseAdvisory)

	result, err := h.services.Detection.Detect(c.Request.Context(), uploadID, req.UseAdvisory)
	if err != nil {
		h.logger.Error("Detection failed", "upload_id", uploadID, "error", err)
		writeError(c, err)
		return
	}

	writeOK(c, result)
}

// ListFindings handles GET /api/findings
func (h *Handlers) ListFindings(c *gin.Context) {
	var req ListFindingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		writeError(c, apperr.Validation("list findings", "invalid query parameters: %v", err))
		return
	}
	if req.GroupBy != "" && req.GroupBy != "category" {
		writeError(c, apperr.Validation("list findings", "unsupported group_by %q", req.GroupBy))
		return
	}

	findings, err := h.services.Findings.ListFindings(c.Request.Context(), entity.FindingFilter{
		UploadID:  req.UploadID,
		CompanyID: req.CompanyID,
		InvoiceID: req.InvoiceID,
		Severity:  entity.Severity(req.Severity),
		Status:    entity.FindingStatus(req.Status),
		Resolved:  req.Resolved,
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if findings == nil {
		findings = []*entity.Finding{}
	}

	if req.GroupBy == "category" {
		writeOK(c, GroupedFindingsResponse{
			Findings: findings,
			Groups:   service.GroupFindingsByCategory(findings),
		})
		return
	}

	writeOK(c, findings)
}

// GetFinding handles GET /api/findings/:id
func (h *Handlers) GetFinding(c *gin.Context) {
	finding, err := h.services.Findings.GetFinding(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, finding)
}

// PreviewFix handles GET /api/findings/:id/preview
func (h *Handlers) PreviewFix(c *gin.Context) {
	preview, err := h.services.Remediation.PreviewFix(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, preview)
}

// ExecuteFix handles POST /api/findings/:id/fix
func (h *Handlers) ExecuteFix(c *gin.Context) {
	findingID := c.Param("id")

	record, err := h.services.Remediation.ExecuteFix(c.Request.Context(), findingID, actorID(c))
	if err != nil {
		h.logger.Error("Fix failed", "finding_id", findingID, "error", err)
		writeError(c, err)
		return
	}

	h.logger.Info("Fix applied", "finding_id", findingID, "fix_record_id", record.ID, "actor_id", actorID(c))
	writeOK(c, record)
}

// BulkFix handles POST /api/findings/bulk-fix
func (h *Handlers) BulkFix(c *gin.Context) {
	var req BulkFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("bulk fix", "invalid request body: %v", err))
		return
	}

	result, err := h.services.Remediation.BulkFix(c.Request.Context(), req.FindingIDs, actorID(c))
	if err != nil {
		h.logger.Error("Bulk fix failed", "count", len(req.FindingIDs), "error", err)
		writeError(c, err)
		return
	}

	writeOK(c, result)
}

// RejectFinding handles POST /api/findings/:id/reject
func (h *Handlers) RejectFinding(c *gin.Context) {
	var req RejectRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, apperr.Validation("reject finding", "invalid request body: %v", err))
		return
	}

	finding, err := h.services.Remediation.RejectFinding(c.Request.Context(), c.Param("id"), actorID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, finding)
}

// ResolveFinding handles POST /api/findings/:id/resolve
func (h *Handlers) ResolveFinding(c *gin.Context) {
	var req ResolveRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, apperr.Validation("resolve finding", "invalid request body: %v", err))
		return
	}

	record, err := h.services.Remediation.ResolveManually(c.Request.Context(), c.Param("id"), actorID(c), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, record)
}

// ListFixHistory handles GET /api/findings/:id/fixes
func (h *Handlers) ListFixHistory(c *gin.Context) {
	records, err := h.services.Remediation.ListFixHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, records)
}

// UndoFix handles POST /api/fixes/:id/undo
func (h *Handlers) UndoFix(c *gin.Context) {
	recordID := c.Param("id")

	record, err := h.services.Remediation.UndoFix(c.Request.Context(), recordID, actorID(c))
	if err != nil {
		h.logger.Error("Undo failed", "fix_record_id", recordID, "error", err)
		writeError(c, err)
		return
	}
	writeOK(c, record)
}

// GetSavings handles GET /api/companies/:company/savings?period=YYYY-QN
func (h *Handlers) GetSavings(c *gin.Context) {
	agg, err := h.services.Savings.Summary(c.Request.Context(), c.Param("company"), c.Query("period"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, agg)
}

// GetAllTimeSavings handles GET /api/companies/:company/savings/all-time
func (h *Handlers) GetAllTimeSavings(c *gin.Context) {
	agg, err := h.services.Savings.AllTime(c.Request.Context(), c.Param("company"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, agg)
}

// ListSavingsPeriods handles GET /api/companies/:company/savings/periods
func (h *Handlers) ListSavingsPeriods(c *gin.Context) {
	periods, err := h.services.Savings.ListPeriods(c.Request.Context(), c.Param("company"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, periods)
}

// GetHealthScore handles GET /api/companies/:company/health-score
func (h *Handlers) GetHealthScore(c *gin.Context) {
	score, err := h.services.Health.Score(c.Request.Context(), c.Param("company"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, score)
}

// bindOptionalJSON binds a JSON body when one is present
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
