//go:build !windows

package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTrackedProcess_CapturesOutput(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")

	var stdout bytes.Buffer
	h, err := reg.StartTrackedProcess(run.RunID, RoleWorker, ProcessSpec{
		Command: []string{"/bin/sh", "-c", "echo $GREETING; exit 3"},
		Env:     []string{"GREETING=hello"},
		Stdout:  &stdout,
	})
	require.NoError(t, err)

	err = h.Wait()
	assert.Error(t, err)
	assert.Equal(t, 3, h.ExitCode())
	assert.False(t, h.Running())
	assert.Equal(t, "hello\n", stdout.String())

	snap, _ := reg.Get(run.RunID)
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, RoleWorker, snap.Processes[0].Role)
	assert.False(t, snap.Processes[0].Running)
}

func TestStartTrackedProcess_ReplacesRole(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")

	first, err := reg.StartTrackedProcess(run.RunID, RolePreview, ProcessSpec{Command: []string{"/bin/sh", "-c", "exit 0"}})
	require.NoError(t, err)
	_ = first.Wait()
	second, err := reg.StartTrackedProcess(run.RunID, RolePreview, ProcessSpec{Command: []string{"/bin/sh", "-c", "exit 0"}})
	require.NoError(t, err)
	_ = second.Wait()

	assert.Same(t, second, reg.Process(run.RunID, RolePreview))
	snap, _ := reg.Get(run.RunID)
	assert.Len(t, snap.Processes, 1)
}

func TestStartTrackedProcess_RefusedAfterFinish(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")
	reg.FailRun(run.RunID, "x")

	_, err := reg.StartTrackedProcess(run.RunID, RoleRender, ProcessSpec{Command: []string{"/bin/sh", "-c", "exit 0"}})
	assert.ErrorIs(t, err, ErrRunTerminal)
}

func TestCancelRun_MidPreviewKillsProcessGroup(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")
	reg.SetState(run.RunID, StatePreviewing, "previewing")

	work := filepath.Join(t.TempDir(), "work", "abc123")
	require.NoError(t, os.MkdirAll(work, 0o755))
	reg.RegisterTempPath(run.RunID, work)

	// The grandchild writes its pid so the test can check it died with the group.
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := "sleep 60 & echo $! > " + pidFile + "; trap '' TERM; wait"
	h, err := reg.StartTrackedProcess(run.RunID, RolePreview, ProcessSpec{
		Command: []string{"/bin/sh", "-c", script},
		Dir:     work,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := os.Stat(pidFile)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	assert.True(t, reg.CancelRun(run.RunID, "user_request", 200*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("preview process still running after cancel")
	}
	assert.False(t, h.Running())

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	childPID, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return !pidAlive(childPID)
	}, 5*time.Second, 20*time.Millisecond, "grandchild survived group kill")

	snap, _ := reg.Get(run.RunID)
	assert.Equal(t, StateCanceled, snap.State)
	assert.NoDirExists(t, work)
	require.Len(t, snap.Processes, 1)
	assert.False(t, snap.Processes[0].Running)
}

func TestTerminateProcess_LeavesStateAlone(t *testing.T) {
	reg := New()
	run := reg.CreateRun("", "", "")
	reg.SetState(run.RunID, StateRendering, "")

	h, err := reg.StartTrackedProcess(run.RunID, RoleRender, ProcessSpec{Command: []string{"/bin/sh", "-c", "sleep 60"}})
	require.NoError(t, err)

	assert.True(t, reg.TerminateProcess(run.RunID, RoleRender, 100*time.Millisecond))
	<-h.Done()

	snap, _ := reg.Get(run.RunID)
	assert.Equal(t, StateRendering, snap.State)
}

// pidAlive treats zombies as dead since an orphan may never be reaped inside
// a minimal container.
func pidAlive(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	fields := strings.Fields(string(stat[bytes.LastIndexByte(stat, ')')+1:]))
	return len(fields) == 0 || fields[0] != "Z"
}
