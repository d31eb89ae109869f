//go:build !windows

package infrastructure

import (
	"os/exec"
	"syscall"
	"time"
)

// processWaitDelay bounds how long Wait blocks on output after a cancelled process is killed
const processWaitDelay = 2 * time.Second

// killGroupOnCancel starts cmd in its own process group and kills the whole
// group on context cancellation, so helpers spawned by the binary can not keep
// its output pipes open.
func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = processWaitDelay
}
