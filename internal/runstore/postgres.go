package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agent_runs (
	run_id      TEXT PRIMARY KEY,
	owner_id    TEXT,
	session_id  TEXT,
	agent_id    TEXT NOT NULL,
	state       TEXT NOT NULL,
	message     TEXT,
	error       TEXT,
	metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at  TIMESTAMPTZ,
	ended_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES agent_runs(run_id) ON DELETE CASCADE,
	kind         TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, storage_path)
);

CREATE INDEX IF NOT EXISTS idx_agent_runs_state ON agent_runs(state);
`

// Postgres stores runs in PostgreSQL through a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool, verifies it and ensures the schema exists.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// CreateRun inserts a run. A duplicate run id is ignored.
func (p *Postgres) CreateRun(ctx context.Context, rec Record) error {
	metadata, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO agent_runs (run_id, owner_id, session_id, agent_id, state, message, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id) DO NOTHING`,
		rec.RunID, nullable(rec.OwnerID), nullable(rec.SessionID), rec.Agent, rec.State, rec.Message,
		metadata, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun writes the mutable lifecycle columns of a run.
func (p *Postgres) UpdateRun(ctx context.Context, rec Record) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE agent_runs
		 SET state = $2, message = $3, error = $4, updated_at = $5,
		     started_at = COALESCE(started_at, $6), ended_at = COALESCE(ended_at, $7)
		 WHERE run_id = $1`,
		rec.RunID, rec.State, rec.Message, nullable(rec.Error), rec.UpdatedAt, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddArtifact records an output path. Repeated paths are ignored.
func (p *Postgres) AddArtifact(ctx context.Context, runID, kind, path string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO run_artifacts (run_id, kind, storage_path)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, storage_path) DO NOTHING`,
		runID, kind, path,
	)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// GetRun loads a run by id.
func (p *Postgres) GetRun(ctx context.Context, runID string) (*Record, error) {
	var (
		rec                       Record
		owner, session, msg, errS *string
		metadata                  []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT run_id, owner_id, session_id, agent_id, state, message, error, metadata,
		        created_at, updated_at, started_at, ended_at
		 FROM agent_runs WHERE run_id = $1`,
		runID,
	).Scan(&rec.RunID, &owner, &session, &rec.Agent, &rec.State, &msg, &errS, &metadata,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	rec.OwnerID, rec.SessionID, rec.Message, rec.Error = deref(owner), deref(session), deref(msg), deref(errS)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &rec.Metadata)
	}
	return &rec, nil
}

// ListArtifacts returns the artifacts of a run, oldest first.
func (p *Postgres) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, run_id, kind, storage_path, created_at
		 FROM run_artifacts WHERE run_id = $1 ORDER BY id`,
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

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
