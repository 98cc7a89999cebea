package registry

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ProcessSpec describes a subprocess to start under a run.
type ProcessSpec struct {
	Command []string
	Dir     string
	Env     []string // appended to the current environment
	Stdout  io.Writer
	Stderr  io.Writer
	// WaitDelay bounds how long Wait keeps draining output after the process
	// exits while grandchildren still hold the pipes open.
	WaitDelay time.Duration
}

// ProcessHandle is a tracked OS subprocess running in its own process group.
type ProcessHandle struct {
	Role      Role
	PID       int
	PGID      int
	StartedAt time.Time

	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

// Done is closed once the process has exited and its output is drained.
func (h *ProcessHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits and returns its exit error.
func (h *ProcessHandle) Wait() error {
	<-h.done
	return h.waitErr
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (h *ProcessHandle) ExitCode() int {
	select {
	case <-h.done:
	default:
		return -1
	}
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Running reports whether the process leader is still alive.
func (h *ProcessHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return processAlive(h.PID)
}

// startProcess spawns spec in a new process group and starts reaping it.
func startProcess(role Role, spec ProcessSpec) (*ProcessHandle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.WaitDelay > 0 {
		cmd.WaitDelay = spec.WaitDelay
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
	}

	h := &ProcessHandle{
		Role:      role,
		PID:       cmd.Process.Pid,
		PGID:      processGroupID(cmd.Process.Pid),
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// terminate signals the process group, waits up to grace for the leader to
// exit, then force-kills the whole group.
func (h *ProcessHandle) terminate(grace time.Duration) {
	if h.Running() {
		_ = interruptGroup(h)

		timer := time.NewTimer(grace)
		select {
		case <-h.done:
		case <-timer.C:
		}
		timer.Stop()
	}

	// Children can outlive the leader; sweep the group regardless.
	_ = killGroup(h)

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
	}
}
