//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	gprocess "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/windows"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// killTree terminates p and its descendants with taskkill.
func killTree(p *os.Process) error {
	out, err := exec.Command("taskkill", "/pid", strconv.Itoa(p.Pid), "/f", "/t").CombinedOutput()
	if err == nil {
		return nil
	}
	if exists, _ := gprocess.PidExists(int32(p.Pid)); !exists {
		return nil
	}
	if kerr := p.Kill(); kerr != nil {
		return fmt.Errorf("taskkill: %v: %s: %w", err, out, kerr)
	}
	return nil
}
