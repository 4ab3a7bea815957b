package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats is a point-in-time resource snapshot of a worker process.
type Stats struct {
	PID        int     `json:"pid"`
	Running    bool    `json:"running"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
}

// ProcessStats samples the OS for the process with the given PID.
// A process that no longer exists yields Running=false and no error.
func ProcessStats(ctx context.Context, pid int) (Stats, error) {
	stats := Stats{PID: pid}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if errors.Is(err, process.ErrorProcessNotRunning) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("looking up process %d: %w", pid, err)
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("checking process %d: %w", pid, err)
	}
	stats.Running = running
	if !running {
		return stats, nil
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("reading memory of process %d: %w", pid, err)
	}
	stats.RSSBytes = mem.RSS
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("reading cpu of process %d: %w", pid, err)
	}
	stats.CPUPercent = cpu
	return stats, nil
}
