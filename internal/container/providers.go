package container

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/garyjia/vat-compliance/internal/ai"
	"github.com/garyjia/vat-compliance/internal/application/dispatcher"
	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/application/service"
	"github.com/garyjia/vat-compliance/internal/domain/fixes"
	"github.com/garyjia/vat-compliance/internal/domain/rules"
	"github.com/garyjia/vat-compliance/internal/infrastructure/cache"
	"github.com/garyjia/vat-compliance/internal/infrastructure/external/openai"
	"github.com/garyjia/vat-compliance/internal/infrastructure/lock"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/migrations"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/repository"
	"github.com/garyjia/vat-compliance/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/vat-compliance/internal/infrastructure/ratelimit"
	"github.com/garyjia/vat-compliance/internal/infrastructure/worker"
	"github.com/garyjia/vat-compliance/pkg/database"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Handle         *database.DB
	TransactionMgr *sqlite.DB
}

// DomainBundle holds the rule engine and the fix catalog built on its rates.
type DomainBundle struct {
	Engine  *rules.Engine
	Catalog *fixes.Catalog
}

// CoordinationBundle holds the locker and rate limiter, backed by Redis when
// configured.
type CoordinationBundle struct {
	Redis   redis.UniversalClient
	Locker  port.Locker
	Limiter *ratelimit.Limiter
	// MemoryStore is set when counters are kept in process
	MemoryStore *ratelimit.MemoryStore
}

// ProvideDatabase opens the SQLite database and applies the embedded
// migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dbCfg := database.DefaultConfig(cfg.Path)
	if cfg.MaxOpenConns > 0 {
		dbCfg.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		dbCfg.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		dbCfg.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	if cfg.BusyTimeout > 0 {
		dbCfg.BusyTimeout = cfg.BusyTimeout
	}

	handle, err := database.Open(dbCfg, migrations.FS, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DatabaseBundle{
		Handle:         handle,
		TransactionMgr: sqlite.NewDB(handle.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories on the transaction manager.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Upload:    repository.NewUploadRepository(db, logger),
		Invoice:   repository.NewInvoiceRepository(db, logger),
		Finding:   repository.NewFindingRepository(db, logger),
		FixRecord: repository.NewFixRecordRepository(db, logger),
		Savings:   repository.NewSavingsRepository(db, logger),
		Anomaly:   repository.NewAnomalyRepository(db, logger),
	}, nil
}

// ProvideDomain builds the rule engine from rulesPath. A missing file keeps
// the built-in catalog.
func ProvideDomain(rulesPath string, logger *zap.Logger) (*DomainBundle, error) {
	cfg := rules.DefaultConfig()
	if rulesPath != "" {
		loaded, err := rules.LoadConfig(rulesPath)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn("Rule config not found, using built-in catalog", zap.String("path", rulesPath))
		default:
			return nil, fmt.Errorf("failed to load rule config: %w", err)
		}
	}

	engine := rules.NewEngine(cfg)
	return &DomainBundle{
		Engine:  engine,
		Catalog: fixes.NewCatalog(engine.Rates()),
	}, nil
}

// ProvideAugmenter creates the advisory augmenter. Without an API key the
// augmenter always falls back to rule severity.
func ProvideAugmenter(cfg *OpenAIConfig, logger *zap.Logger) (*ai.Augmenter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("openai config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	augCfg := ai.DefaultAugmenterConfig()
	if cfg.Timeout > 0 {
		augCfg.Timeout = cfg.Timeout
	}
	augCfg.MaxRetries = cfg.MaxRetries

	if cfg.APIKey == "" {
		logger.Info("OpenAI API key not set, advisory review disabled")
		return ai.NewAugmenter(nil, augCfg, logger), nil
	}

	prompts := openai.DefaultPrompts()
	if cfg.PromptsPath != "" {
		loaded, err := openai.LoadPrompts(cfg.PromptsPath)
		switch {
		case err == nil:
			prompts = loaded
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("Prompts file not found, using built-in prompts", zap.String("path", cfg.PromptsPath))
		default:
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
	}

	advisor := openai.NewAdvisor(openai.AdvisorConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}, prompts, logger)

	return ai.NewAugmenter(advisor, augCfg, logger), nil
}

// ProvideCoordination creates the detection locker and the rate limiter.
// With Redis configured both are shared across instances.
func ProvideCoordination(ctx context.Context, redisCfg *RedisConfig, limitCfg *RateLimitConfig, logger *zap.Logger) (*CoordinationBundle, error) {
	if redisCfg == nil || limitCfg == nil {
		return nil, fmt.Errorf("redis and rate limit config are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if !redisCfg.Enabled() {
		store := ratelimit.NewMemoryStore()
		return &CoordinationBundle{
			Locker:      lock.NewLocalLocker(50*time.Millisecond, 0),
			Limiter:     ratelimit.NewLimiter(store, limitCfg.Limit, limitCfg.Window, logger),
			MemoryStore: store,
		}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisCfg.Addr, err)
	}
	logger.Info("Redis connected", zap.String("addr", redisCfg.Addr))

	return &CoordinationBundle{
		Redis:   client,
		Locker:  lock.NewRedisLocker(client, "", 100*time.Millisecond, 0, logger),
		Limiter: ratelimit.NewLimiter(ratelimit.NewRedisStore(client, "", logger), limitCfg.Limit, limitCfg.Window, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
// Returns dispatcher.Dispatcher implementation.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&LoggerAdapter{logger: logger}),
	), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Domain    *DomainBundle
	Augmenter port.Augmenter
	Locker    port.Locker
	Publisher port.EventPublisher
	Config    *Config
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
// Returns ServiceBundle containing all service implementations.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Domain == nil {
		return nil, fmt.Errorf("rule engine is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &LoggerAdapter{logger: deps.Logger}
	cfg := deps.Config

	detectionCfg := service.DefaultDetectionConfig()
	if cfg.Detection.Concurrency > 0 {
		detectionCfg.Concurrency = cfg.Detection.Concurrency
	}
	if cfg.Detection.LockTTL > 0 {
		detectionCfg.LockTTL = cfg.Detection.LockTTL
	}
	if cfg.Detection.LockRetryAfter > 0 {
		detectionCfg.LockRetryAfter = cfg.Detection.LockRetryAfter
	}

	remediationCfg := service.DefaultRemediationConfig()
	remediationCfg.LaborMinutesPerFix = cfg.Remediation.LaborMinutesPerFix
	remediationCfg.HourlyRate = decimal.NewFromFloat(cfg.Remediation.HourlyRate)
	if cfg.Remediation.BulkConcurrency > 0 {
		remediationCfg.BulkConcurrency = cfg.Remediation.BulkConcurrency
	}
	if cfg.Remediation.MaxBulkSize > 0 {
		remediationCfg.MaxBulkSize = cfg.Remediation.MaxBulkSize
	}

	var healthCache port.Cache[*service.HealthScore] = cache.NoopCache[*service.HealthScore]{}
	if cfg.Health.CacheTTL > 0 {
		healthCache = cache.NewTTLCache[*service.HealthScore](cfg.Health.CacheTTL)
	}

	savings := service.NewSavingsService(deps.Repos.Savings, service.SavingsConfig{
		ServiceCostPerPeriod: decimal.NewFromFloat(cfg.Savings.ServiceCostPerPeriod),
	}, serviceLogger)

	return &ServiceBundle{
		Upload: service.NewUploadService(
			deps.Repos.Upload,
			deps.Repos.Invoice,
			deps.Repos.Anomaly,
			deps.TxManager,
			deps.Publisher,
			serviceLogger,
		),
		Detection: service.NewDetectionService(
			deps.Repos.Upload,
			deps.Repos.Invoice,
			deps.Repos.Finding,
			deps.Repos.Anomaly,
			deps.TxManager,
			deps.Domain.Engine,
			deps.Augmenter,
			deps.Locker,
			deps.Publisher,
			detectionCfg,
			serviceLogger,
		),
		Finding: service.NewFindingService(deps.Repos.Finding, serviceLogger),
		Remediation: service.NewRemediationService(
			deps.Repos.Finding,
			deps.Repos.Invoice,
			deps.Repos.FixRecord,
			savings,
			deps.TxManager,
			deps.Domain.Catalog,
			deps.Publisher,
			remediationCfg,
			serviceLogger,
		),
		Savings: savings,
		Health:  service.NewHealthService(deps.Repos.Finding, healthCache, serviceLogger),
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Repos        *RepositoryBundle
	Detection    service.DetectionService
	Publisher    port.EventPublisher
	Coordination *CoordinationBundle
	WorkerCfg    *WorkerConfig
	Logger       *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Detection == nil {
		return nil, fmt.Errorf("detection service is required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	if deps.WorkerCfg.Enabled {
		manager.Register(worker.NewDetectionWorker(
			worker.DetectionWorkerConfig{
				PollInterval:   deps.WorkerCfg.PollInterval,
				BatchSize:      deps.WorkerCfg.BatchSize,
				ProcessTimeout: deps.WorkerCfg.ProcessTimeout,
			},
			deps.Repos.Upload,
			deps.Detection,
			deps.Publisher,
			deps.Logger,
		))
	}

	if deps.Coordination != nil && deps.Coordination.MemoryStore != nil {
		store := deps.Coordination.MemoryStore
		window := deps.Coordination.Limiter.Window()
		manager.Register(worker.NewSweepWorker("RateLimitSweeper", window, func() int {
			return store.Sweep(window)
		}, deps.Logger))
	}

	return manager, nil
}
