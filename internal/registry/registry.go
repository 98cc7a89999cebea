package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrRunNotFound is returned when a run id is not registered.
var ErrRunNotFound = errors.New("run not found")

// ErrRunTerminal is returned when a process is started for a finished run.
var ErrRunTerminal = errors.New("run already finished")

// ErrRunActive is returned when purging a run that has not finished.
var ErrRunActive = errors.New("run still active")

// ChangeKind names what an observer is being told about.
type ChangeKind string

// Change kinds delivered to observers.
const (
	ChangeCreated  ChangeKind = "created"
	ChangeState    ChangeKind = "state"
	ChangeArtifact ChangeKind = "artifact"
)

// Change is delivered to observers after the registry lock is released.
type Change struct {
	Kind     ChangeKind
	Run      Snapshot
	Artifact string
}

// Observer receives registry changes. Observers must not call back into the
// registry synchronously in a way that blocks on the change they are handling.
type Observer func(Change)

// Option configures a Registry.
type Option func(*Registry)

// WithObserver registers fn to be called after every run change.
func WithObserver(fn Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, fn)
	}
}

// WithLogger sets the logger used for best-effort cleanup reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry is the in-memory store of runs. A single coarse lock guards the
// run map and every run's mutable fields.
type Registry struct {
	mu        sync.Mutex
	runs      map[string]*Run
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		runs:   make(map[string]*Run),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// CreateRun registers a new run in state CREATED.
func (r *Registry) CreateRun(ownerID, sessionID, message string) Snapshot {
	now := r.now()
	run := &Run{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		SessionID: sessionID,
		State:     StateCreated,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
		processes: make(map[Role]*ProcessHandle),
	}

	r.mu.Lock()
	r.runs[run.ID] = run
	snap := run.snapshot()
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeCreated, Run: snap})
	return snap
}

// SetState moves a run to state. Unknown ids and finished runs are ignored.
// Once cancellation has been requested only CANCELED is accepted.
func (r *Registry) SetState(runID string, state State, message string) bool {
	return r.transition(runID, state, message, "")
}

// CompleteRun marks the run COMPLETED with a final message.
func (r *Registry) CompleteRun(runID, message string) bool {
	return r.transition(runID, StateCompleted, message, "")
}

// FailRun marks the run ERROR and records errText.
func (r *Registry) FailRun(runID, errText string) bool {
	return r.transition(runID, StateError, errText, errText)
}

func (r *Registry) transition(runID string, state State, message, errText string) bool {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok || (run.cancelRequested && state != StateCanceled) {
		r.mu.Unlock()
		return false
	}
	if !run.transition(state, message, r.now()) {
		r.mu.Unlock()
		return false
	}
	if errText != "" {
		run.Error = errText
	}
	snap := run.snapshot()
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeState, Run: snap})
	return true
}

// RegisterTempPath records a path to delete on cancellation or cleanup.
func (r *Registry) RegisterTempPath(runID, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return false
	}
	run.tempPaths = appendUnique(run.tempPaths, path)
	return true
}

// RegisterArtifact records an output path that is never auto-deleted.
func (r *Registry) RegisterArtifact(runID, path string) bool {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	before := len(run.artifacts)
	run.artifacts = appendUnique(run.artifacts, path)
	added := len(run.artifacts) > before
	snap := run.snapshot()
	r.mu.Unlock()

	if added {
		r.notify(Change{Kind: ChangeArtifact, Run: snap, Artifact: path})
	}
	return true
}

// StartTrackedProcess spawns spec in its own process group and registers it
// under role, replacing any previous handle for that role.
func (r *Registry) StartTrackedProcess(runID string, role Role, spec ProcessSpec) (*ProcessHandle, error) {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRunNotFound
	}
	if run.State.Terminal() || run.cancelRequested {
		r.mu.Unlock()
		return nil, ErrRunTerminal
	}
	r.mu.Unlock()

	h, err := startProcess(role, spec)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// A cancel may have landed while the process was starting.
	canceled := run.cancelRequested || run.State.Terminal()
	if !canceled {
		run.processes[role] = h
	}
	r.mu.Unlock()

	if canceled {
		h.terminate(0)
		return nil, ErrRunTerminal
	}

	r.logger.Debug("process started", "run_id", runID, "role", role, "pid", h.PID)
	return h, nil
}

// Process returns the handle registered under role, or nil.
func (r *Registry) Process(runID string, role Role) *ProcessHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil
	}
	return run.processes[role]
}

// TerminateProcess stops the process group registered under role using the
// same signal sequence as cancellation. It leaves the run state untouched.
func (r *Registry) TerminateProcess(runID string, role Role, grace time.Duration) bool {
	h := r.Process(runID, role)
	if h == nil {
		return false
	}
	h.terminate(grace)
	return true
}

// CancelRun stops every process group of the run, removes its temp paths and
// marks it CANCELED. It returns true for runs that already finished and false
// only for unknown ids.
func (r *Registry) CancelRun(runID, reason string, grace time.Duration) bool {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if run.State.Terminal() {
		r.mu.Unlock()
		return true
	}
	run.cancelRequested = true
	handles := make([]*ProcessHandle, 0, len(run.processes))
	for _, h := range run.processes {
		handles = append(handles, h)
	}
	paths := append([]string{}, run.tempPaths...)
	r.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			h.terminate(grace)
			return nil
		})
	}
	_ = g.Wait()

	RemovePathsBestEffort(r.logger, paths)

	if reason == "" {
		reason = "user_request"
	}
	r.transition(runID, StateCanceled, "Run canceled: "+reason, "")
	r.logger.Info("run canceled", "run_id", runID, "reason", reason, "processes", len(handles))
	return true
}

// CancelRequested reports whether cancellation was requested or completed.
func (r *Registry) CancelRequested(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return false
	}
	return run.cancelRequested || run.State == StateCanceled
}

// CleanupTempPaths removes every registered temp path of the run.
func (r *Registry) CleanupTempPaths(runID string) bool {
	r.mu.Lock()
	run, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	paths := append([]string{}, run.tempPaths...)
	r.mu.Unlock()

	RemovePathsBestEffort(r.logger, paths)
	return true
}

// Get returns a snapshot of the run.
func (r *Registry) Get(runID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return Snapshot{}, false
	}
	return run.snapshot(), true
}

// List returns snapshots of every run, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.snapshot())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Purge removes a finished run from the registry.
func (r *Registry) Purge(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if !run.State.Terminal() {
		return ErrRunActive
	}
	delete(r.runs, runID)
	return nil
}

// PurgeOlderThan removes finished runs that ended more than age ago and
// returns how many were removed.
func (r *Registry) PurgeOlderThan(age time.Duration) int {
	cutoff := r.now().Add(-age)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, run := range r.runs {
		if run.State.Terminal() && run.EndedAt != nil && run.EndedAt.Before(cutoff) {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) notify(c Change) {
	for _, fn := range r.observers {
		fn(c)
	}
}
