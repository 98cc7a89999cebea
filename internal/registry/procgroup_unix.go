//go:build !windows

package registry

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the command in a new session so the whole subtree
// can be signaled through its process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func processGroupID(pid int) int {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return pid
	}
	return pgid
}

func interruptGroup(h *ProcessHandle) error {
	return signalGroup(h.PGID, syscall.SIGTERM)
}

func killGroup(h *ProcessHandle) error {
	return signalGroup(h.PGID, syscall.SIGKILL)
}

func signalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return errors.New("invalid process group")
	}
	err := syscall.Kill(-pgid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
