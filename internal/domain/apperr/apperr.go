// Package apperr defines the error taxonomy shared by detection, remediation
// and savings accounting. Callers classify errors with errors.Is against the
// Err* sentinels and read retry hints with RetryAfter.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindValidation          Kind = "ValidationError"
	KindNotFound            Kind = "NotFound"
	KindAlreadyResolved     Kind = "AlreadyResolved"
	KindAlreadyUndone       Kind = "AlreadyUndone"
	KindNotFixable          Kind = "NotFixable"
	KindConflict            Kind = "Conflict"
	KindAdvisoryUnavailable Kind = "AdvisoryUnavailable"
	KindPersistence         Kind = "PersistenceFailure"
	KindThrottled           Kind = "Throttled"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Retryable reports whether the caller may retry the same request.
func (k Kind) Retryable() bool {
	return k == KindPersistence || k == KindThrottled
}

// Sentinels for errors.Is matching.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAlreadyResolved     = &Error{Kind: KindAlreadyResolved}
	ErrAlreadyUndone       = &Error{Kind: KindAlreadyUndone}
	ErrNotFixable          = &Error{Kind: KindNotFixable}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrAdvisoryUnavailable = &Error{Kind: KindAdvisoryUnavailable}
	ErrPersistence         = &Error{Kind: KindPersistence}
	ErrThrottled           = &Error{Kind: KindThrottled}
)

// Error is a classified application error.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates a classified error around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation reports malformed input to a core operation.
func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity.
func NotFound(op, entity, id string) *Error {
	return New(KindNotFound, op, fmt.Sprintf("%s %s not found", entity, id))
}

// Persistence wraps a store failure as retryable.
func Persistence(op string, err error) *Error {
	return Wrap(KindPersistence, op, err)
}

// Throttled reports a rate-limit breach with the time until the window resets.
func Throttled(op string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindThrottled,
		Op:         op,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfterSeconds(retryAfter)),
		RetryAfter: retryAfter,
	}
}

// KindOf returns the kind of the first classified error in the chain, or ""
// for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfter returns the retry hint carried by a Throttled error.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindThrottled {
		return e.RetryAfter, true
	}
	return 0, false
}

// RetryAfterSeconds rounds a retry hint up to whole seconds, minimum one.
func RetryAfterSeconds(d time.Duration) int {
	return retryAfterSeconds(d)
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
