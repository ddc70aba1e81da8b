//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	gprocess "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills p's process group and every descendant still reachable
// through the process table.
func killTree(p *os.Process) error {
	pid := p.Pid
	descendants := collectDescendants(int32(pid))

	var errs []error
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !gone(err) {
		errs = append(errs, err)
	}
	for _, child := range descendants {
		if err := unix.Kill(int(child), unix.SIGKILL); err != nil && !gone(err) {
			errs = append(errs, err)
		}
	}
	if err := p.Kill(); err != nil && !gone(err) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func collectDescendants(pid int32) []int32 {
	proc, err := gprocess.NewProcess(pid)
	if err != nil {
		return nil
	}
	children, err := proc.Children()
	if err != nil {
		return nil
	}

	var pids []int32
	for _, c := range children {
		pids = append(pids, c.Pid)
		pids = append(pids, collectDescendants(c.Pid)...)
	}
	return pids
}

func gone(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone)
}
