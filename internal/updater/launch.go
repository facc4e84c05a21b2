package updater

import (
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nnfz/stretch-host/internal/logging"
)

// Launch starts the installer at path, detached from this process, with the
// given arguments. Stdio is not inherited and the process handle is released
// right after start, so this process holds nothing open on the artifact.
func Launch(path string, args []string) (int, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	setDetachedProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, newError(LaunchError, "failed to start installer", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Debug("failed to release installer process handle", "pid", pid, logging.KeyError, err)
	}
	return pid, nil
}

// childAlive reports whether pid still runs. Used only for diagnostics; the
// hand-off proceeds either way.
func childAlive(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return false
	}
	if status, err := p.Status(); err == nil && slices.Contains(status, process.Zombie) {
		return false
	}
	return true
}
