// Package governor implements spec.md §4.6: OS process priority mapping
// and memory-pressure offload-and-retry. Grounded nearly line-for-line on
// _examples/original_source/app/os_resources/os_resources_utils.py
// (offload_if_memory_low, set_process_priority, terminate_process_safely),
// reimplemented for a POSIX host since this repo targets Linux/macOS, not
// Windows priority classes.
package governor

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/gwlsn/firefly/internal/config"
	"github.com/gwlsn/firefly/internal/logger"
)

// ErrLowResources is the transient condition spec.md §4.6/§7 describes:
// the supervisor is expected to sleep and retry.
var ErrLowResources = errors.New("governor: low resources, process terminated")

// niceValues maps each policy string to a POSIX nice value, matching the
// original's priority_map exactly.
var niceValues = map[config.Priority]int{
	config.PriorityIdle:        19,
	config.PriorityBelowNormal: 10,
	config.PriorityNormal:      0,
	config.PriorityAboveNormal: -5,
	config.PriorityHigh:        -15,
	config.PriorityRealTime:    -20,
}

// SetPriority maps priority to a POSIX nice value and applies it to pid.
// A negative nice value that fails with EPERM (no root) degrades to
// normal (nice 0) and logs a warning, matching the original's
// AccessDenied fallback.
func SetPriority(pid int, priority config.Priority) {
	nice, ok := niceValues[priority]
	if !ok {
		logger.Warn("governor: unknown priority level, falling back to normal", "priority", priority)
		nice = 0
	}

	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		if nice < 0 && errors.Is(err, syscall.EPERM) {
			logger.Warn("governor: root required for elevated priority, falling back to normal", "priority", priority, "pid", pid)
			if err2 := unix.Setpriority(unix.PRIO_PROCESS, pid, 0); err2 != nil {
				logger.Error("governor: failed to set fallback priority", "pid", pid, "error", err2)
			}
			return
		}
		logger.Error("governor: failed to set priority", "pid", pid, "error", err)
		return
	}
	logger.Debug("governor: set process priority", "pid", pid, "priority", priority, "nice", nice)
}

// TerminateProcessTree sends SIGTERM to pid and all its descendants,
// waits briefly, then SIGKILLs any survivors. Matches the original's
// terminate_process_safely grace-period shape.
func TerminateProcessTree(pid int) error {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil // already gone
	}

	all := []*process.Process{root}
	for i := 0; i < len(all); i++ {
		children, _ := all[i].Children()
		all = append(all, children...)
	}

	for _, p := range all {
		_ = p.SendSignal(syscall.SIGTERM)
	}

	deadline := time.Now().Add(5 * time.Second)
	alive := waitForExit(all, deadline)

	for _, p := range alive {
		_ = p.SendSignal(syscall.SIGKILL)
	}
	waitForExit(alive, time.Now().Add(2*time.Second))

	return nil
}

func waitForExit(procs []*process.Process, deadline time.Time) []*process.Process {
	for time.Now().Before(deadline) {
		var stillAlive []*process.Process
		for _, p := range procs {
			if running, err := p.IsRunning(); err == nil && running {
				stillAlive = append(stillAlive, p)
			}
		}
		if len(stillAlive) == 0 {
			return nil
		}
		procs = stillAlive
		time.Sleep(100 * time.Millisecond)
	}
	return procs
}

// Monitor periodically samples host memory while a supervised process
// runs, terminating its process tree and signalling ErrLowResources on
// pressure.
type Monitor struct {
	Interval          time.Duration
	PercentHardLimit  float64
	HardLimitBytes    uint64
}

// NewMonitor builds a Monitor from the configured thresholds.
func NewMonitor(cfg *config.Config) *Monitor {
	return &Monitor{
		Interval:         time.Duration(cfg.Params.RAMMonitoringIntervalSecs * float64(time.Second)),
		PercentHardLimit: cfg.Params.RAMPercentHardLimit,
		HardLimitBytes:   uint64(cfg.Params.RAMHardLimitBytes),
	}
}

// Watch blocks, sampling memory every Interval, until ctx is cancelled
// (normal return) or memory pressure is detected, in which case it
// terminates pid's process tree and returns ErrLowResources.
func (m *Monitor) Watch(ctx context.Context, pid int) error {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			vm, err := mem.VirtualMemory()
			if err != nil {
				logger.Warn("governor: failed to sample memory", "error", err)
				continue
			}
			if vm.UsedPercent > m.PercentHardLimit || vm.Available < m.HardLimitBytes {
				logger.Debug("governor: system RAM is low, stopping to prevent swap", "used_percent", vm.UsedPercent)
				if err := TerminateProcessTree(pid); err != nil {
					logger.Warn("governor: error terminating process tree", "error", err)
				}
				return fmt.Errorf("%w: %.1f%% used", ErrLowResources, vm.UsedPercent)
			}
		}
	}
}
