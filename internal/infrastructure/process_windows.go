//go:build windows

package infrastructure

import (
	"os/exec"
	"syscall"
	"time"
)

// processWaitDelay bounds how long Wait blocks on output after a cancelled process is killed
const processWaitDelay = 2 * time.Second

// killGroupOnCancel starts cmd in a new process group and kills it on context
// cancellation; WaitDelay releases Wait when children still hold the pipes.
func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = processWaitDelay
}
