package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepFunc removes expired entries and reports how many it dropped
type SweepFunc func() int

// SweepWorker periodically evicts expired in-memory state such as finished
// rate-limit windows
type SweepWorker struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	logger   *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
}

// NewSweepWorker creates a worker that calls sweep every interval
func NewSweepWorker(name string, interval time.Duration, sweep SweepFunc, logger *zap.Logger) *SweepWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepWorker{
		name:     name,
		interval: interval,
		sweep:    sweep,
		logger:   logger,
	}
}

// Start begins the sweep loop
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("%s already running", w.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	go w.loop(runCtx, w.done)
	return nil
}

// Stop ends the loop and waits for it to exit
func (w *SweepWorker) Stop() error {
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
	return nil
}

// Name returns the worker name for identification
func (w *SweepWorker) Name() string {
	return w.name
}

func (w *SweepWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := w.sweep(); removed > 0 {
				w.logger.Debug("Swept expired entries",
					zap.String("worker_name", w.name),
					zap.Int("removed", removed))
			}
		}
	}
}
