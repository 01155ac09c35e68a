package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/logger"
)

// Manager lifecycle errors.
var (
	ErrWorkerRunning    = errors.New("worker already running")
	ErrWorkerNotRunning = errors.New("worker not running")
)

// abandonTimeout bounds the wait for in-flight tasks on a non-graceful
// stop.
const abandonTimeout = 2 * time.Second

// WorkerFactory builds a worker for a requested concurrency. The
// manager calls it on each start so concurrency can change between
// runs.
type WorkerFactory func(concurrency int) *Worker

// Manager starts and stops the crawl worker through the HTTP control
// surface.
type Manager struct {
	factory WorkerFactory
	log     logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	concurrency int
	startedAt   time.Time
}

// NewManager creates a worker manager.
func NewManager(factory WorkerFactory, log logger.Logger) *Manager {
	return &Manager{factory: factory, log: log}
}

// Start launches the worker loop with the given concurrency.
func (m *Manager) Start(concurrency int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrWorkerRunning
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := m.factory(concurrency)
	done := make(chan struct{})

	m.cancel = cancel
	m.done = done
	m.concurrency = concurrency
	m.startedAt = time.Now()

	go func() {
		defer close(done)
		if err := worker.Run(ctx); err != nil {
			m.log.Error("worker loop exited with error", logger.Error(err))
		}
	}()

	m.log.Info("crawl worker started", logger.Int("concurrency", concurrency))
	return nil
}

// Stop halts the worker loop. With graceful set the call waits for
// in-flight page tasks to drain; otherwise it waits only briefly and
// abandons them (the URL store recovers their rows on next start).
func (m *Manager) Stop(graceful bool) error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return ErrWorkerNotRunning
	}
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()

	if graceful {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(abandonTimeout):
			m.log.Warn("worker stop abandoned in-flight tasks")
		}
	}

	m.log.Info("crawl worker stopped", logger.Bool("graceful", graceful))
	return nil
}

// Status describes the current worker state.
type Status struct {
	Running     bool      `json:"running"`
	Concurrency int       `json:"concurrency,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// Status reports whether the worker loop is running.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return Status{Running: false}
	}
	return Status{Running: true, Concurrency: m.concurrency, StartedAt: m.startedAt}
}
