//go:build integration
// +build integration

package runstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	p, err := ConnectPostgres(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPostgres_RunLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	p := setupTestPostgres(t)
	ctx := context.Background()

	runID := uuid.NewString()
	now := time.Now().UTC()
	require.NoError(t, p.CreateRun(ctx, Record{
		RunID: runID, Agent: DefaultAgent, State: "CREATED", Message: "Run created",
		CreatedAt: now, UpdatedAt: now,
	}))

	ended := now.Add(time.Second)
	require.NoError(t, p.UpdateRun(ctx, Record{
		RunID: runID, State: "COMPLETED", Message: "Render completed.",
		UpdatedAt: ended, StartedAt: &now, EndedAt: &ended,
	}))
	require.NoError(t, p.AddArtifact(ctx, runID, "video", "/a/videos/v.mp4"))
	require.NoError(t, p.AddArtifact(ctx, runID, "video", "/a/videos/v.mp4"))

	got, err := p.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", got.State)
	assert.Empty(t, got.OwnerID)
	require.NotNil(t, got.EndedAt)

	arts, err := p.ListArtifacts(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, arts, 1)

	_, err = p.GetRun(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
