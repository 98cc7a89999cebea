//go:build windows

package registry

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func processGroupID(pid int) int {
	return pid
}

// Windows has no group SIGTERM; both steps kill the leader.
func interruptGroup(h *ProcessHandle) error {
	return h.cmd.Process.Kill()
}

func killGroup(h *ProcessHandle) error {
	if h.cmd.Process == nil {
		return nil
	}
	err := h.cmd.Process.Kill()
	if err == os.ErrProcessDone {
		return nil
	}
	return err
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
