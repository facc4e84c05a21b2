//go:build !windows

package updater

import (
	"os/exec"
	"syscall"
)

// setDetachedProcAttr runs the installer in a new session so it survives the
// host exiting.
func setDetachedProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
