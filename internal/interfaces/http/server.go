// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/vat-compliance/internal/application/service"
	"github.com/garyjia/vat-compliance/internal/infrastructure/ratelimit"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthCheckFunc reports overall health and a status per component
type HealthCheckFunc func(ctx context.Context) (healthy bool, components map[string]string)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Services groups the application services the handlers call
type Services struct {
	Uploads     service.UploadService
	Detection   service.DetectionService
	Findings    service.FindingService
	Remediation service.RemediationService
	Savings     service.SavingsService
	Health      service.HealthService
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	limiter    *ratelimit.Limiter
	health     HealthCheckFunc
	logger     Logger
}

// NewServer creates a new HTTP server with the given services. A nil limiter
// disables rate limiting; a nil health check always reports healthy.
func NewServer(
	config ServerConfig,
	services Services,
	limiter *ratelimit.Limiter,
	health HealthCheckFunc,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		services: services,
		limiter:  limiter,
		health:   health,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.health, s.logger)
	limited := s.rateLimitMiddleware()

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	{
		uploads := api.Group("/uploads")
		uploads.POST("", h.CreateUpload)
		uploads.GET("/:id", h.GetUpload)
		uploads.GET("/:id/invoices", h.ListUploadInvoices)
		uploads.GET("/:id/anomalies", h.ListUploadAnomalies)
		uploads.POST("/:id/enqueue", h.EnqueueDetection)
		uploads.POST("/:id/detect", limited, h.Detect)

		findings := api.Group("/findings")
		findings.GET("", h.ListFindings)
		findings.POST("/bulk-fix", limited, h.BulkFix)
		findings.GET("/:id", h.GetFinding)
		findings.GET("/:id/preview", h.PreviewFix)
		findings.POST("/:id/fix", limited, h.ExecuteFix)
		findings.POST("/:id/reject", h.RejectFinding)
		findings.POST("/:id/resolve", h.ResolveFinding)
		findings.GET("/:id/fixes", h.ListFixHistory)

		api.POST("/fixes/:id/undo", h.UndoFix)

		companies := api.Group("/companies/:company")
		companies.GET("/savings", h.GetSavings)
		companies.GET("/savings/all-time", h.GetAllTimeSavings)
		companies.GET("/savings/periods", h.ListSavingsPeriods)
		companies.GET("/health-score", h.GetHealthScore)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
