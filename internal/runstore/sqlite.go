package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agent_runs (
	run_id      TEXT PRIMARY KEY,
	owner_id    TEXT,
	session_id  TEXT,
	agent_id    TEXT NOT NULL,
	state       TEXT NOT NULL,
	message     TEXT,
	error       TEXT,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	started_at  TIMESTAMP,
	ended_at    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL REFERENCES agent_runs(run_id) ON DELETE CASCADE,
	kind         TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (run_id, storage_path)
);

CREATE INDEX IF NOT EXISTS idx_agent_runs_state ON agent_runs(state);
`

// SQLite stores runs in a local SQLite file. It is the default mirror for
// single-node deployments without Postgres.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating when needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run. A duplicate run id is ignored.
func (s *SQLite) CreateRun(ctx context.Context, rec Record) error {
	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (run_id, owner_id, session_id, agent_id, state, message, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO NOTHING`,
		rec.RunID, nullable(rec.OwnerID), nullable(rec.SessionID), rec.Agent, rec.State, rec.Message,
		string(metadata), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun writes the mutable lifecycle columns of a run.
func (s *SQLite) UpdateRun(ctx context.Context, rec Record) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs
		 SET state = ?, message = ?, error = ?, updated_at = ?,
		     started_at = COALESCE(started_at, ?), ended_at = COALESCE(ended_at, ?)
		 WHERE run_id = ?`,
		rec.State, rec.Message, nullable(rec.Error), rec.UpdatedAt.UTC(),
		utcPtr(rec.StartedAt), utcPtr(rec.EndedAt), rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddArtifact records an output path. Repeated paths are ignored.
func (s *SQLite) AddArtifact(ctx context.Context, runID, kind, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_artifacts (run_id, kind, storage_path)
		 VALUES (?, ?, ?)
		 ON CONFLICT (run_id, storage_path) DO NOTHING`,
		runID, kind, path,
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *SQLite) GetRun(ctx context.Context, runID string) (*Record, error) {
	var (
		rec                       Record
		owner, session, msg, errS sql.NullString
		metadata                  string
		started, ended            sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, owner_id, session_id, agent_id, state, message, error, metadata,
		        created_at, updated_at, started_at, ended_at
		 FROM agent_runs WHERE run_id = ?`,
		runID,
	).Scan(&rec.RunID, &owner, &session, &rec.Agent, &rec.State, &msg, &errS, &metadata,
		&rec.CreatedAt, &rec.UpdatedAt, &started, &ended)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	rec.OwnerID, rec.SessionID = owner.String, session.String
	rec.Message, rec.Error = msg.String, errS.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if ended.Valid {
		rec.EndedAt = &ended.Time
	}
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &rec.Metadata)
	}
	return &rec, nil
}

// ListArtifacts returns the artifacts of a run, oldest first.
func (s *SQLite) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, storage_path, created_at
		 FROM run_artifacts WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.Kind, &a.StoragePath, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
