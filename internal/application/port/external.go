package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/event"
)

// ErrAdvisoryRateLimited is returned by an AdvisoryClient when the provider
// rejected the call for quota reasons. Only this error is retried.
var ErrAdvisoryRateLimited = errors.New("advisory service rate limited")

// AdvisoryItem is one candidate sent for review
type AdvisoryItem struct {
	Index       int    `json:"index"`
	InvoiceID   string `json:"invoice_id"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	PenaltyRisk string `json:"penalty_risk"`
}

// AdvisoryRequest is the batched payload of one advisory call
type AdvisoryRequest struct {
	Items []AdvisoryItem `json:"items"`
}

// AdvisoryVerdict is the service's opinion on one item. The fields are
// untrusted until validated.
type AdvisoryVerdict struct {
	Index                int     `json:"index"`
	ConfidenceMultiplier float64 `json:"confidence_multiplier"`
	Insight              string  `json:"insight"`
}

// AdvisoryResponse is the decoded reply of one advisory call
type AdvisoryResponse struct {
	Items []AdvisoryVerdict `json:"items"`
}

// AdvisoryClient defines the external text-generation service
type AdvisoryClient interface {
	Advise(ctx context.Context, req *AdvisoryRequest) (*AdvisoryResponse, error)
}

// Augmenter enriches rule candidates with advisory metadata. Implementations
// fail open and never add or drop candidates; applied is false when the
// static fallback was used.
type Augmenter interface {
	Augment(ctx context.Context, candidates []*entity.Candidate) (out []*entity.Candidate, applied bool)
}

// ErrLockNotObtained is returned when a Locker could not acquire a key in time
var ErrLockNotObtained = errors.New("lock not obtained")

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out keyed mutual-exclusion locks with a TTL
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// EventPublisher delivers domain events after the state they describe has
// been committed. Delivery failures are logged, not returned.
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event)
}

// Cache is a process-local keyed cache with expiry
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Delete(key string)
}
