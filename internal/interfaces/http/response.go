package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/vat-compliance/internal/domain/apperr"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyResolved, apperr.KindAlreadyUndone, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFixable:
		return http.StatusUnprocessableEntity
	case apperr.KindThrottled:
		return http.StatusTooManyRequests
	case apperr.KindPersistence, apperr.KindAdvisoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status of its kind. Throttled errors carry
// a Retry-After header in whole seconds.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	if d, ok := apperr.RetryAfter(err); ok {
		c.Header("Retry-After", strconv.Itoa(apperr.RetryAfterSeconds(d)))
	}

	msg := err.Error()
	if kind == "" {
		msg = "internal error"
	}

	c.JSON(status, Response{
		Success: false,
		Error:   msg,
		Code:    string(kind),
	})
}

// writeOK renders data with status 200
func writeOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// writeCreated renders data with status 201
func writeCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}
