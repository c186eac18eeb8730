package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/vat-compliance/internal/application/port"
	"github.com/garyjia/vat-compliance/internal/application/service"
	"github.com/garyjia/vat-compliance/internal/domain/apperr"
	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/garyjia/vat-compliance/internal/domain/event"
	"go.uber.org/zap"
)

// DetectionWorkerConfig holds configuration for the detection worker
type DetectionWorkerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	ProcessTimeout time.Duration
}

// DefaultDetectionWorkerConfig returns default configuration
func DefaultDetectionWorkerConfig() DetectionWorkerConfig {
	return DetectionWorkerConfig{
		PollInterval:   5 * time.Second,
		BatchSize:      5,
		ProcessTimeout: 2 * time.Minute,
	}
}

// WorkerStats is a snapshot of the worker's counters
type WorkerStats struct {
	Running        bool
	ProcessedCount int
	FailedCount    int
	LastProcessed  time.Time
	LastError      string
}

// DetectionWorker runs detection for uploads queued through the API. An
// upload is claimed with a queued→processing compare-and-set so that
// concurrent workers never process the same upload twice.
type DetectionWorker struct {
	config DetectionWorkerConfig

	uploadRepo port.UploadRepository
	detector   service.DetectionService
	publisher  port.EventPublisher
	logger     *zap.Logger

	mu             sync.RWMutex
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	lastProcessed  time.Time
	processedCount int
	failedCount    int
	lastError      error
}

// NewDetectionWorker creates a new detection worker
func NewDetectionWorker(
	config DetectionWorkerConfig,
	uploadRepo port.UploadRepository,
	detector service.DetectionService,
	publisher port.EventPublisher,
	logger *zap.Logger,
) *DetectionWorker {
	defaults := DefaultDetectionWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = defaults.ProcessTimeout
	}

	return &DetectionWorker{
		config:     config,
		uploadRepo: uploadRepo,
		detector:   detector,
		publisher:  publisher,
		logger:     logger,
	}
}

// Start begins the polling loop
func (w *DetectionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("detection worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("DetectionWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current batch to finish
func (w *DetectionWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("DetectionWorker stopped",
		zap.Int("processed_count", stats.ProcessedCount),
		zap.Int("failed_count", stats.FailedCount))
	return nil
}

// Name returns the worker name for identification
func (w *DetectionWorker) Name() string {
	return "DetectionWorker"
}

// Stats returns the current counters
func (w *DetectionWorker) Stats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := WorkerStats{
		Running:        w.isRunning,
		ProcessedCount: w.processedCount,
		FailedCount:    w.failedCount,
		LastProcessed:  w.lastProcessed,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

func (w *DetectionWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessQueued(ctx); err != nil {
				w.mu.Lock()
				w.lastError = err
				w.mu.Unlock()
				w.logger.Error("Failed to process queued uploads", zap.Error(err))
			}
		}
	}
}

// ProcessQueued claims and processes up to BatchSize queued uploads.
// Uploads left in processing for twice ProcessTimeout are requeued first.
func (w *DetectionWorker) ProcessQueued(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-2 * w.config.ProcessTimeout)
	requeued, err := w.uploadRepo.RequeueStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to requeue stale uploads: %w", err)
	}
	if len(requeued) > 0 {
		w.logger.Warn("Requeued stale uploads",
			zap.Strings("upload_ids", requeued),
			zap.Time("started_before", cutoff))
	}

	uploads, err := w.uploadRepo.ListByStatus(ctx, entity.UploadStatusQueued, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list queued uploads: %w", err)
	}

	for _, upload := range uploads {
		if ctx.Err() != nil {
			return nil
		}

		claimed, err := w.uploadRepo.Claim(ctx, upload.ID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to claim upload %s: %w", upload.ID, err)
		}
		if !claimed {
			continue
		}

		w.process(ctx, upload)
	}

	w.mu.Lock()
	w.lastProcessed = time.Now()
	w.mu.Unlock()
	return nil
}

func (w *DetectionWorker) process(ctx context.Context, upload *entity.Upload) {
	processCtx, cancel := context.WithTimeout(ctx, w.config.ProcessTimeout)
	defer cancel()

	w.logger.Info("Processing upload",
		zap.String("upload_id", upload.ID),
		zap.Bool("use_advisory", upload.UseAdvisory))

	result, err := w.detector.Detect(processCtx, upload.ID, upload.UseAdvisory)

	// status writes outlive the processing deadline
	writeCtx := context.WithoutCancel(ctx)
	now := time.Now().UTC()

	switch {
	case apperr.KindOf(err) == apperr.KindThrottled:
		w.logger.Info("Upload busy, requeueing", zap.String("upload_id", upload.ID))
		w.finish(writeCtx, upload, entity.UploadStatusQueued, 0, 0, "", now)
		return

	case err != nil:
		w.logger.Error("Detection failed",
			zap.String("upload_id", upload.ID),
			zap.Error(err))
		w.mu.Lock()
		w.failedCount++
		w.lastError = err
		w.mu.Unlock()
		w.finish(writeCtx, upload, entity.UploadStatusFailed, 0, 0, err.Error(), now)
		return
	}

	w.mu.Lock()
	w.processedCount++
	w.mu.Unlock()

	w.logger.Info("Upload processed",
		zap.String("upload_id", upload.ID),
		zap.Int("findings", len(result.Findings)),
		zap.Int("anomalies", len(result.Anomalies)))
	w.finish(writeCtx, upload, entity.UploadStatusCompleted, len(result.Findings), len(result.Anomalies), "", now)
}

func (w *DetectionWorker) finish(ctx context.Context, upload *entity.Upload, status entity.UploadStatus, findings, anomalies int, errMsg string, at time.Time) {
	if err := w.uploadRepo.Finish(ctx, upload.ID, status, findings, anomalies, errMsg, at); err != nil {
		w.logger.Error("Failed to record upload status",
			zap.String("upload_id", upload.ID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}

	if w.publisher != nil {
		w.publisher.Publish(ctx, event.NewEvent(event.TypeUploadStatusChanged, upload.CompanyID, upload.ID, map[string]interface{}{
			"status":    string(status),
			"findings":  findings,
			"anomalies": anomalies,
			"error":     errMsg,
		}))
	}
}
