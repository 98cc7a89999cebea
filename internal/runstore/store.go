// Package runstore mirrors run lifecycle and artifacts to a durable database.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/animation-agent/internal/registry"
)

// ErrNotFound is returned by lookups for unknown run ids.
var ErrNotFound = errors.New("run not found in store")

// DefaultAgent labels runs created by this service.
const DefaultAgent = "animation_agent"

// Record is the persisted form of a run.
type Record struct {
	RunID     string         `json:"run_id"`
	OwnerID   string         `json:"owner_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Agent     string         `json:"agent"`
	State     string         `json:"state"`
	Message   string         `json:"message"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// Artifact is a persisted output of a run.
type Artifact struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists runs. Implementations must be safe for concurrent use.
type Store interface {
	CreateRun(ctx context.Context, rec Record) error
	UpdateRun(ctx context.Context, rec Record) error
	AddArtifact(ctx context.Context, runID, kind, path string) error
	GetRun(ctx context.Context, runID string) (*Record, error)
	ListArtifacts(ctx context.Context, runID string) ([]Artifact, error)
	Close() error
}

// Open picks a backend from url: empty for none, postgres:// or
// postgresql:// for Postgres, sqlite://<path>, file:<path> or a path ending
// in .db/.sqlite for SQLite.
func Open(ctx context.Context, url string) (Store, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return Nop{}, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return ConnectPostgres(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"),
		strings.EqualFold(filepath.Ext(url), ".db"),
		strings.EqualFold(filepath.Ext(url), ".sqlite"):
		return OpenSQLite(ctx, url)
	}
	return nil, fmt.Errorf("unsupported database url %q", url)
}

// FromSnapshot converts a registry snapshot into a Record.
func FromSnapshot(s registry.Snapshot) Record {
	rec := Record{
		RunID:     s.RunID,
		OwnerID:   s.OwnerID,
		SessionID: s.SessionID,
		Agent:     DefaultAgent,
		State:     string(s.State),
		Message:   s.Message,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
	if s.Error != nil {
		rec.Error = *s.Error
	}
	return rec
}

// ArtifactKind guesses the artifact kind from its path.
func ArtifactKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		if strings.Contains(filepath.Base(path), "export-") {
			return "export"
		}
		return "video"
	case ".png":
		return "frame"
	case "":
		return "preview"
	}
	return "file"
}

// Nop discards every write.
type Nop struct{}

func (Nop) CreateRun(context.Context, Record) error { return nil }

func (Nop) UpdateRun(context.Context, Record) error { return nil }

func (Nop) AddArtifact(context.Context, string, string, string) error { return nil }

func (Nop) GetRun(context.Context, string) (*Record, error) { return nil, ErrNotFound }

func (Nop) ListArtifacts(context.Context, string) ([]Artifact, error) { return nil, nil }

func (Nop) Close() error { return nil }
