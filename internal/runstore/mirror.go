package runstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonathan/animation-agent/internal/registry"
)

// DefaultWriteTimeout bounds a single mirror write.
const DefaultWriteTimeout = 5 * time.Second

// DefaultQueueSize is the number of pending writes a Mirror buffers.
const DefaultQueueSize = 256

// Mirror writes registry changes to a Store from a single background
// goroutine, so writes for one run land in the order they happened. Every
// write is best-effort: a failure is logged at WARN and never returned.
type Mirror struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan mirrorJob
	done   chan struct{}
}

type mirrorJob struct {
	op    string
	runID string
	fn    func(ctx context.Context) error
}

// NewMirror wraps store and starts its writer. A nil store mirrors nothing.
func NewMirror(store Store, timeout time.Duration, logger *slog.Logger) *Mirror {
	if store == nil {
		store = Nop{}
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		store:   store,
		timeout: timeout,
		logger:  logger.With("component", "runstore"),
		queue:   make(chan mirrorJob, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Observer adapts the mirror to registry change notifications.
func (m *Mirror) Observer() registry.Observer {
	return func(c registry.Change) {
		switch c.Kind {
		case registry.ChangeCreated:
			m.Created(c.Run)
		case registry.ChangeState:
			m.StateChanged(c.Run)
		case registry.ChangeArtifact:
			m.Artifact(c.Run.RunID, c.Artifact)
		}
	}
}

// Created records a new run.
func (m *Mirror) Created(s registry.Snapshot) {
	m.enqueue("create run", s.RunID, func(ctx context.Context) error {
		return m.store.CreateRun(ctx, FromSnapshot(s))
	})
}

// StateChanged records the run's current state, message and error.
func (m *Mirror) StateChanged(s registry.Snapshot) {
	m.enqueue("update run", s.RunID, func(ctx context.Context) error {
		return m.store.UpdateRun(ctx, FromSnapshot(s))
	})
}

// Artifact records an output path of a run.
func (m *Mirror) Artifact(runID, path string) {
	m.enqueue("save artifact", runID, func(ctx context.Context) error {
		return m.store.AddArtifact(ctx, runID, ArtifactKind(path), path)
	})
}

// enqueue hands a write to the writer goroutine. When the queue is full it
// waits up to the write timeout, then drops the write.
func (m *Mirror) enqueue(op, runID string, fn func(ctx context.Context) error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	job := mirrorJob{op: op, runID: runID, fn: fn}
	select {
	case m.queue <- job:
		return
	default:
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()
	select {
	case m.queue <- job:
	case <-timer.C:
		m.logger.Warn("run mirror queue full, write dropped", "op", op, "run_id", runID)
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for job := range m.queue {
		m.write(job)
	}
}

func (m *Mirror) write(job mirrorJob) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := job.fn(ctx); err != nil {
		m.logger.Warn("run mirror write failed", "op", job.op, "run_id", job.runID, "error", err)
	}
}

// Close stops accepting writes, drains the queue and closes the wrapped
// store. Later changes are ignored.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	return m.store.Close()
}
