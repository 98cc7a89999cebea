package registry

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRun(t *testing.T) {
	reg := New()

	a := reg.CreateRun("owner-1", "session-1", "hello")
	b := reg.CreateRun("", "", "")

	assert.NotEmpty(t, a.RunID)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, StateCreated, a.State)
	assert.Equal(t, "owner-1", a.OwnerID)
	assert.Equal(t, "session-1", a.SessionID)
	assert.Nil(t, a.StartedAt)
	assert.Nil(t, a.EndedAt)
	assert.Nil(t, a.Error)
	assert.Empty(t, a.Processes)
}

func TestSetState_Timestamps(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")

	require.True(t, reg.SetState(run.RunID, StateStarting, "starting"))
	snap, _ := reg.Get(run.RunID)
	require.NotNil(t, snap.StartedAt)
	started := *snap.StartedAt

	require.True(t, reg.SetState(run.RunID, StatePreviewing, ""))
	snap, _ = reg.Get(run.RunID)
	assert.Equal(t, started, *snap.StartedAt, "started_at is recorded once")
	assert.Equal(t, "starting", snap.Message, "empty message keeps the previous one")
	assert.Nil(t, snap.EndedAt)

	require.True(t, reg.CompleteRun(run.RunID, "done"))
	snap, _ = reg.Get(run.RunID)
	require.NotNil(t, snap.EndedAt)
	ended := *snap.EndedAt
	assert.Equal(t, StateCompleted, snap.State)

	assert.False(t, reg.SetState(run.RunID, StateRendering, "late"))
	assert.False(t, reg.FailRun(run.RunID, "late failure"))
	snap, _ = reg.Get(run.RunID)
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, ended, *snap.EndedAt)
	assert.Equal(t, "done", snap.Message)
}

func TestFailRun_RecordsError(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")

	require.True(t, reg.FailRun(run.RunID, "boom"))

	snap, _ := reg.Get(run.RunID)
	assert.Equal(t, StateError, snap.State)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "boom", *snap.Error)
	assert.NotNil(t, snap.EndedAt)
}

func TestUnknownRunID(t *testing.T) {
	reg := New()
	const id = "does-not-exist"

	assert.False(t, reg.SetState(id, StateStarting, ""))
	assert.False(t, reg.CompleteRun(id, ""))
	assert.False(t, reg.FailRun(id, "x"))
	assert.False(t, reg.RegisterTempPath(id, "/tmp/x"))
	assert.False(t, reg.RegisterArtifact(id, "/tmp/y"))
	assert.False(t, reg.CancelRun(id, "user_request", time.Millisecond))
	assert.False(t, reg.CancelRequested(id))
	assert.False(t, reg.CleanupTempPaths(id))
	assert.False(t, reg.TerminateProcess(id, RolePreview, time.Millisecond))
	assert.Nil(t, reg.Process(id, RolePreview))
	assert.ErrorIs(t, reg.Purge(id), ErrRunNotFound)

	_, err := reg.StartTrackedProcess(id, RoleWorker, ProcessSpec{Command: []string{"true"}})
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, ok := reg.Get(id)
	assert.False(t, ok)
}

func TestRegisterPaths_Idempotent(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")

	assert.True(t, reg.RegisterArtifact(run.RunID, "/a.mp4"))
	assert.True(t, reg.RegisterArtifact(run.RunID, "/a.mp4"))
	assert.True(t, reg.RegisterArtifact(run.RunID, "/b.mp4"))
	assert.True(t, reg.RegisterTempPath(run.RunID, "/tmp/w"))
	assert.True(t, reg.RegisterTempPath(run.RunID, "/tmp/w"))

	snap, _ := reg.Get(run.RunID)
	assert.Equal(t, []string{"/a.mp4", "/b.mp4"}, snap.Artifacts)
}

func TestCancelRun_NoProcesses(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")
	reg.SetState(run.RunID, StateStarting, "")

	dir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "f.txt"), []byte("x"), 0o644))
	reg.RegisterTempPath(run.RunID, dir)
	reg.RegisterTempPath(run.RunID, filepath.Join(t.TempDir(), "never-created"))

	assert.True(t, reg.CancelRun(run.RunID, "user_request", 10*time.Millisecond))
	assert.True(t, reg.CancelRun(run.RunID, "again", 10*time.Millisecond))

	snap, _ := reg.Get(run.RunID)
	assert.Equal(t, StateCanceled, snap.State)
	assert.Equal(t, "Run canceled: user_request", snap.Message)
	assert.NotNil(t, snap.EndedAt)
	assert.True(t, reg.CancelRequested(run.RunID))
	assert.NoDirExists(t, dir)

	assert.False(t, reg.SetState(run.RunID, StateRendering, ""))
	assert.False(t, reg.CompleteRun(run.RunID, ""))
}

func TestCancelRun_TerminalRunUnchanged(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")
	reg.CompleteRun(run.RunID, "done")

	assert.True(t, reg.CancelRun(run.RunID, "user_request", time.Millisecond))

	snap, _ := reg.Get(run.RunID)
	assert.Equal(t, StateCompleted, snap.State)
	assert.False(t, reg.CancelRequested(run.RunID))
}

func TestCancelRun_Concurrent(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")
	reg.SetState(run.RunID, StatePreviewing, "")

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.CancelRun(run.RunID, "user_request", time.Millisecond)
		}(i)
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	snap, _ := reg.Get(run.RunID)
	assert.Equal(t, StateCanceled, snap.State)
}

func TestPurge(t *testing.T) {
	reg := New()
	active := reg.CreateRun("", "", "")
	reg.SetState(active.RunID, StateRendering, "")
	done := reg.CreateRun("", "", "")
	reg.CompleteRun(done.RunID, "")

	assert.ErrorIs(t, reg.Purge(active.RunID), ErrRunActive)
	assert.NoError(t, reg.Purge(done.RunID))
	_, ok := reg.Get(done.RunID)
	assert.False(t, ok)
	assert.Len(t, reg.List(), 1)
}

func TestPurgeOlderThan(t *testing.T) {
	reg := New()
	now := time.Now()
	reg.now = func() time.Time { return now.Add(-48 * time.Hour) }
	old := reg.CreateRun("", "", "")
	reg.FailRun(old.RunID, "old failure")
	stillRunning := reg.CreateRun("", "", "")
	reg.SetState(stillRunning.RunID, StateStarting, "")

	reg.now = func() time.Time { return now }
	recent := reg.CreateRun("", "", "")
	reg.CompleteRun(recent.RunID, "")

	assert.Equal(t, 1, reg.PurgeOlderThan(24*time.Hour))
	_, ok := reg.Get(old.RunID)
	assert.False(t, ok)
	_, ok = reg.Get(stillRunning.RunID)
	assert.True(t, ok)
	_, ok = reg.Get(recent.RunID)
	assert.True(t, ok)
}

func TestList_NewestFirst(t *testing.T) {
	reg := New()
	base := time.Now()
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * time.Second
		reg.now = func() time.Time { return base.Add(offset) }
		reg.CreateRun("", "", "")
	}

	runs := reg.List()
	require.Len(t, runs, 3)
	assert.True(t, runs[0].CreatedAt.After(runs[1].CreatedAt))
	assert.True(t, runs[1].CreatedAt.After(runs[2].CreatedAt))
}

func TestObserver(t *testing.T) {
	var mu sync.Mutex
	var changes []Change
	reg := New(WithObserver(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}))

	run := reg.CreateRun("owner", "", "")
	reg.SetState(run.RunID, StateStarting, "")
	reg.RegisterArtifact(run.RunID, "/v.mp4")
	reg.RegisterArtifact(run.RunID, "/v.mp4")
	reg.CompleteRun(run.RunID, "ok")
	reg.SetState(run.RunID, StateRendering, "ignored")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 4)
	assert.Equal(t, ChangeCreated, changes[0].Kind)
	assert.Equal(t, ChangeState, changes[1].Kind)
	assert.Equal(t, StateStarting, changes[1].Run.State)
	assert.Equal(t, ChangeArtifact, changes[2].Kind)
	assert.Equal(t, "/v.mp4", changes[2].Artifact)
	assert.Equal(t, StateCompleted, changes[3].Run.State)
}

func TestStateTerminal(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
	}{
		{StateCreated, false},
		{StateStarting, false},
		{StatePreviewing, false},
		{StateRendering, false},
		{StateExporting, false},
		{StateCompleted, true},
		{StateError, true},
		{StateCanceled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}
