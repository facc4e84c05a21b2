package health

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats describes the host process for the /health response.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
	OpenFiles  int32   `json:"openFiles,omitempty"`
}

// CurrentProcess samples the running host. Fields the platform cannot report
// are left zero.
func CurrentProcess() (ProcessStats, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return ProcessStats{}, err
	}

	stats := ProcessStats{PID: pid}
	if mem, err := p.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		stats.Threads = n
	}
	// Not supported on Windows.
	if n, err := p.NumFDs(); err == nil {
		stats.OpenFiles = n
	}
	return stats, nil
}
