package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a long-running background component with its own lifecycle.
// Start must not block; Stop waits for in-flight work to drain.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// WorkerManager owns a set of workers and fans startup and shutdown out
// to all of them. Workers share one cancellable context derived from the
// context passed to StartAll.
type WorkerManager struct {
	logger *zap.Logger

	mu      sync.Mutex
	workers []Worker
	running bool
	cancel  context.CancelFunc
}

// NewWorkerManager creates an empty manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker. Registration after StartAll has no effect on
// the running set.
func (m *WorkerManager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
	m.logger.Info("Worker registered", zap.String("worker", w.Name()))
}

// StartAll starts every registered worker. A worker that fails to start
// is logged and skipped so one bad worker does not take down the rest.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("worker manager already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	workers := m.workers
	m.mu.Unlock()

	for _, w := range workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Worker failed to start",
				zap.String("worker", w.Name()),
				zap.Error(err))
			continue
		}
		m.logger.Info("Worker started", zap.String("worker", w.Name()))
	}
	return nil
}

// StopAll cancels the shared context and stops workers in reverse
// registration order, so consumers go down before what they depend on.
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	workers := m.workers
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	failed := 0
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if err := w.Stop(); err != nil {
			m.logger.Error("Worker failed to stop",
				zap.String("worker", w.Name()),
				zap.Error(err))
			failed++
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker", w.Name()))
	}

	if failed > 0 {
		return fmt.Errorf("%d workers failed to stop cleanly", failed)
	}
	return nil
}
