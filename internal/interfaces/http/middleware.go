package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/vat-compliance/internal/domain/apperr"
)

// ActorHeader carries the pre-authenticated caller identity
const ActorHeader = "X-Actor-ID"

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
			"actor_id", c.GetHeader(ActorHeader),
		)
	}
}

// rateLimitMiddleware admits a fixed number of requests per caller and
// window. Callers are identified by actor header, falling back to client IP.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		if actor := c.GetHeader(ActorHeader); actor != "" {
			key = "actor:" + actor
		}

		d := s.limiter.Allow(c.Request.Context(), key)
		if d.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}

		if !d.Allowed {
			s.logger.Info("Rate limit exceeded", "key", key, "retry_after", d.RetryAfter.String())
			writeError(c, apperr.Throttled("rate limit", d.RetryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

// actorID returns the caller identity header
func actorID(c *gin.Context) string {
	return c.GetHeader(ActorHeader)
}
