package service

import (
	"context"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/event"
	"github.com/google/uuid"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// classify passes classified errors through and turns anything else into a
// retryable persistence failure
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Persistence(op, err)
}

func newID() string {
	return uuid.NewString()
}

func publish(ctx context.Context, publisher port.EventPublisher, evt *event.Event) {
	if publisher == nil {
		return
	}
	publisher.Publish(ctx, evt)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
