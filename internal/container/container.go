package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/dispatcher"
	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/application/service"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/vat-compliance/internal/infrastructure/ratelimit"
	"github.com/garyjia/vat-compliance/internal/infrastructure/worker"
	"github.com/garyjia/vat-compliance/pkg/database"
	"go.uber.org/zap"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and are torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	handle       *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Domain and external
	domain       *DomainBundle
	augmenter    port.Augmenter
	coordination *CoordinationBundle

	// Application
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Upload    port.UploadRepository
	Invoice   port.InvoiceRepository
	Finding   port.FindingRepository
	FixRecord port.FixRecordRepository
	Savings   port.SavingsRepository
	Anomaly   port.AnomalyRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Upload      service.UploadService
	Detection   service.DetectionService
	Finding     service.FindingService
	Remediation service.RemediationService
	Savings     service.SavingsService
	Health      service.HealthService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Rule engine, fix catalog and advisory augmenter
// 3. Locker and rate limiter
// 4. Event dispatcher
// 5. Application services and event handlers
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDomain(); err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	c.logger.Info("Rule engine and advisory initialized")

	if err := c.initCoordination(); err != nil {
		return fmt.Errorf("failed to initialize coordination: %w", err)
	}
	c.logger.Info("Locker and rate limiter initialized",
		zap.Bool("redis", c.coordination.Redis != nil))

	if err := c.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Pending async handlers finish before the database goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.coordination != nil && c.coordination.Redis != nil {
		if err := c.coordination.Redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		} else {
			c.logger.Info("Redis client closed")
		}
	}

	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.handle != nil {
		if err := c.handle.Health(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	} else {
		set("database", false, "not initialized")
	}

	// Redis is optional; an outage degrades to fail-open limiting
	if c.coordination != nil && c.coordination.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.coordination.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			status.Components["redis"] = ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)}
		} else {
			status.Components["redis"] = ComponentHealth{Healthy: true}
		}
	}

	if c.workers != nil {
		running := c.workers.IsRunning()
		set("workers", running, fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	return status
}

// CheckHealth reports overall health and a message per component, for the
// HTTP health endpoint
func (c *Container) CheckHealth(ctx context.Context) (bool, map[string]string) {
	status := c.Health(ctx)
	components := make(map[string]string, len(status.Components))
	for name, h := range status.Components {
		switch {
		case h.Healthy:
			components[name] = "ok"
		case h.Message != "":
			components[name] = h.Message
		default:
			components[name] = "unhealthy"
		}
	}
	return status.Overall, components
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.handle = dbBundle.Handle
	c.db = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		_ = c.handle.Close()
		return err
	}

	c.repositories = repos
	return nil
}

func (c *Container) initDomain() error {
	domain, err := ProvideDomain(c.config.RulesPath, c.logger)
	if err != nil {
		return err
	}
	c.domain = domain

	augmenter, err := ProvideAugmenter(&c.config.OpenAI, c.logger)
	if err != nil {
		return err
	}
	c.augmenter = augmenter
	return nil
}

func (c *Container) initCoordination() error {
	coordination, err := ProvideCoordination(c.ctx, &c.config.Redis, &c.config.RateLimit, c.logger)
	if err != nil {
		return err
	}
	c.coordination = coordination
	return nil
}

func (c *Container) initDispatcher() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	return nil
}

func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Domain:    c.domain,
		Augmenter: c.augmenter,
		Locker:    c.coordination.Locker,
		Publisher: c.dispatcher,
		Config:    c.config,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services

	dispatcher.RegisterDefaults(c.dispatcher, services.Health, &LoggerAdapter{logger: c.logger})
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Repos:        c.repositories,
		Detection:    c.services.Detection,
		Publisher:    c.dispatcher,
		Coordination: c.coordination,
		WorkerCfg:    &c.config.Worker,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Limiter returns the request rate limiter.
func (c *Container) Limiter() *ratelimit.Limiter {
	if c.coordination == nil {
		return nil
	}
	return c.coordination.Limiter
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// LoggerAdapter adapts zap.Logger to the key-value Logger interfaces of
// the service, dispatcher and http packages.
type LoggerAdapter struct {
	logger *zap.Logger
}

// NewLoggerAdapter wraps logger for packages that log with key-value pairs
func NewLoggerAdapter(logger *zap.Logger) *LoggerAdapter {
	return &LoggerAdapter{logger: logger}
}

func (a *LoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *LoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
