// Package registry tracks pipeline runs and the OS subprocesses they spawn.
package registry

import (
	"sort"
	"time"
)

// State is the lifecycle state of a run.
type State string

// Run states. COMPLETED, ERROR and CANCELED are terminal.
const (
	StateCreated    State = "CREATED"
	StateStarting   State = "STARTING"
	StatePreviewing State = "PREVIEWING"
	StateRendering  State = "RENDERING"
	StateExporting  State = "EXPORTING"
	StateCompleted  State = "COMPLETED"
	StateError      State = "ERROR"
	StateCanceled   State = "CANCELED"
)

// Terminal reports whether the state can never be left.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateCanceled:
		return true
	}
	return false
}

// working reports whether entering the state marks the run as started.
func (s State) working() bool {
	switch s {
	case StateStarting, StatePreviewing, StateRendering, StateExporting:
		return true
	}
	return false
}

// Role identifies what a tracked subprocess is doing for its run.
type Role string

// Process roles. A run holds at most one active handle per role.
const (
	RolePreview Role = "preview"
	RoleRender  Role = "render"
	RoleExport  Role = "export"
	RoleWorker  Role = "worker"
)

// Run is the mutable record kept by the Registry. All fields are guarded by
// the Registry lock; callers only ever see Snapshots.
type Run struct {
	ID        string
	OwnerID   string
	SessionID string
	State     State
	Message   string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time

	cancelRequested bool
	processes       map[Role]*ProcessHandle
	tempPaths       []string
	artifacts       []string
}

func (r *Run) transition(state State, message string, now time.Time) bool {
	if r.State.Terminal() {
		return false
	}
	r.State = state
	if message != "" {
		r.Message = message
	}
	r.UpdatedAt = now
	if state.working() && r.StartedAt == nil {
		t := now
		r.StartedAt = &t
	}
	if state.Terminal() && r.EndedAt == nil {
		t := now
		r.EndedAt = &t
	}
	return true
}

// ProcessInfo summarises a tracked subprocess without exposing OS handles.
type ProcessInfo struct {
	Role    Role `json:"role"`
	PID     int  `json:"pid"`
	Running bool `json:"running"`
}

// Snapshot is a serializable, point-in-time copy of a Run.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	OwnerID   string        `json:"owner_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	State     State         `json:"state"`
	Message   string        `json:"message"`
	Error     *string       `json:"error"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	StartedAt *time.Time    `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at"`
	Processes []ProcessInfo `json:"processes"`
	Artifacts []string      `json:"artifacts"`
}

func (r *Run) snapshot() Snapshot {
	s := Snapshot{
		RunID:     r.ID,
		OwnerID:   r.OwnerID,
		SessionID: r.SessionID,
		State:     r.State,
		Message:   r.Message,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		StartedAt: copyTime(r.StartedAt),
		EndedAt:   copyTime(r.EndedAt),
		Processes: make([]ProcessInfo, 0, len(r.processes)),
		Artifacts: append([]string{}, r.artifacts...),
	}
	if r.Error != "" {
		e := r.Error
		s.Error = &e
	}
	for role, h := range r.processes {
		s.Processes = append(s.Processes, ProcessInfo{Role: role, PID: h.PID, Running: h.Running()})
	}
	sort.Slice(s.Processes, func(i, j int) bool { return s.Processes[i].Role < s.Processes[j].Role })
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
