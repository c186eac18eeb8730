package dispatcher

import (
	"context"

	"github.com/garyjia/vat-compliance/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}

// HealthInvalidator drops a company's cached health score
type HealthInvalidator interface {
	Invalidate(companyID string)
}

// NewHealthInvalidationHandler evicts the cached health score whenever an
// event changes the company's unresolved findings
func NewHealthInvalidationHandler(health HealthInvalidator) Handler {
	return func(ctx context.Context, evt *event.Event) error {
		if evt.Type.AffectsHealth() && evt.CompanyID != "" {
			health.Invalidate(evt.CompanyID)
		}
		return nil
	}
}

// NewAuditLogHandler writes every event to the log
func NewAuditLogHandler(logger Logger) Handler {
	return func(ctx context.Context, evt *event.Event) error {
		kv := []interface{}{
			"event_type", evt.Type,
			"event_id", evt.ID,
			"company_id", evt.CompanyID,
			"subject_id", evt.SubjectID,
		}
		for k, v := range evt.Payload {
			kv = append(kv, k, v)
		}
		logger.Info("Domain event", kv...)
		return nil
	}
}

// RegisterDefaults wires the handlers every deployment runs
func RegisterDefaults(d Dispatcher, health HealthInvalidator, logger Logger) {
	for _, t := range event.AllTypes() {
		if t.AffectsHealth() {
			d.SubscribeNamed(t, "health-invalidation", NewHealthInvalidationHandler(health))
		}
	}
	d.SubscribeAll("audit-log", NewAuditLogHandler(logger))
}
