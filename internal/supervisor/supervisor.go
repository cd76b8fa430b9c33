// Package supervisor runs the engine's top-level goroutines (ingestion,
// shard router, alert index, boundary scheduler, pub/sub consumer) under a
// single restart-with-backoff policy: named workers, per-worker
// retry/backoff state, a periodic health check, graceful Stop with a
// timeout.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerFunc is a long-running function a Supervisor restarts on error.
type WorkerFunc func(ctx context.Context) error

// WorkerConfig configures one supervised worker's restart policy.
type WorkerConfig struct {
	Name           string
	MaxRetries     int // 0 means unlimited
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// WorkerStatus is the current lifecycle state of a supervised worker.
type WorkerStatus string

const (
	StatusStopped  WorkerStatus = "stopped"
	StatusStarting WorkerStatus = "starting"
	StatusRunning  WorkerStatus = "running"
	StatusRetrying WorkerStatus = "retrying"
	StatusFailed   WorkerStatus = "failed"
)

type worker struct {
	config    WorkerConfig
	fn        WorkerFunc
	retries   int
	lastError error
	status    WorkerStatus
	startTime time.Time
	stopTime  time.Time
	mu        sync.RWMutex
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Supervisor manages the engine's background goroutines.
type Supervisor struct {
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	workers map[string]*worker
	started bool
}

// New creates a Supervisor.
func New(logger *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:  logger.Named("supervisor"),
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
}

// Add registers a worker. Must be called before Start.
func (s *Supervisor) Add(config WorkerConfig, fn WorkerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor: cannot add worker %q after Start", config.Name)
	}
	if _, exists := s.workers[config.Name]; exists {
		return fmt.Errorf("supervisor: worker %q already registered", config.Name)
	}
	s.workers[config.Name] = &worker{config: config, fn: fn, status: StatusStopped}
	return nil
}

// Start launches every registered worker and the health check loop.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.logger.Info("starting supervisor", zap.Int("workers", len(s.workers)))
	for name, w := range s.workers {
		s.wg.Add(1)
		go s.run(name, w)
	}
	s.wg.Add(1)
	go s.healthCheckLoop()
}

// Stop cancels every worker and waits up to 30s for them to exit.
func (s *Supervisor) Stop() {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("all workers stopped")
	case <-time.After(30 * time.Second):
		s.logger.Warn("timed out waiting for workers to stop")
	}
}

func (s *Supervisor) run(name string, w *worker) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("worker", name))

	for {
		if s.ctx.Err() != nil {
			w.setStatus(StatusStopped)
			return
		}
		if w.config.MaxRetries > 0 && w.retries >= w.config.MaxRetries {
			w.setStatus(StatusFailed)
			logger.Error("worker exhausted retries", zap.Int("retries", w.retries), zap.Error(w.lastError))
			return
		}

		w.setStatus(StatusStarting)
		w.startTime = time.Now()
		err := s.execute(w, logger)
		w.stopTime = time.Now()

		if err == nil || err == context.Canceled {
			w.setStatus(StatusStopped)
			return
		}

		w.lastError = err
		w.retries++
		w.setStatus(StatusRetrying)
		backoff := calculateBackoff(w.retries, w.config)
		logger.Error("worker exited, restarting", zap.Error(err), zap.Int("retries", w.retries), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			w.setStatus(StatusStopped)
			return
		}
	}
}

func (s *Supervisor) execute(w *worker, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panicked", zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	w.setStatus(StatusRunning)
	return w.fn(s.ctx)
}

func calculateBackoff(retries int, cfg WorkerConfig) time.Duration {
	backoff := cfg.InitialBackoff
	for i := 0; i < retries-1; i++ {
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return backoff
}

func (s *Supervisor) healthCheckLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.logHealth()
		}
	}
}

func (s *Supervisor) logHealth() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unhealthy := 0
	for _, w := range s.workers {
		w.mu.RLock()
		status := w.status
		w.mu.RUnlock()
		if status == StatusFailed || status == StatusRetrying {
			unhealthy++
		}
	}
	s.logger.Debug("health check", zap.Int("total", len(s.workers)), zap.Int("unhealthy", unhealthy))
}

// Status reports a registered worker's current lifecycle state.
func (s *Supervisor) Status(name string) (WorkerStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[name]
	if !ok {
		return "", fmt.Errorf("supervisor: worker %q not found", name)
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, nil
}
