// Package ffmpeg implements spec.md §4.7: the supervised encoder/VMAF
// subprocess execution, memory-pressure offload-and-retry, and embedded
// provenance metadata writing. Grounded on
// _examples/original_source/app/encoder.py (_encode_libx265,
// _write_embedded_metadata) and the teacher's internal/ffmpeg/transcode.go
// for the Go exec.Command + stderr-scanning idiom.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/firefly/internal/config"
	"github.com/gwlsn/firefly/internal/governor"
	"github.com/gwlsn/firefly/internal/logger"
)

// ErrEncodingFailed is raised when the external tool exits non-zero
// (spec.md §7 "EncodingError").
var ErrEncodingFailed = errors.New("ffmpeg: encoding failed")

// ErrSubprocessNotFound is raised when the external tool binary cannot be
// located (spec.md §7 "Subprocess not found").
var ErrSubprocessNotFound = errors.New("ffmpeg: subprocess not found")

// ErrCancelled is returned when the caller's context is cancelled while a
// subprocess is running; the process tree has already been killed
// (spec.md §7 "Cancellation").
var ErrCancelled = errors.New("ffmpeg: cancelled")

// Supervisor launches and supervises the external encoder/probe tool,
// gating continued execution on the resource governor and applying the
// configured process priority. One Supervisor is shared across every
// encode/VMAF/embed invocation of a run.
type Supervisor struct {
	FFmpegPath        string
	FFprobePath       string
	Monitor           *governor.Monitor
	DisableMonitoring bool
}

// NewSupervisor builds a Supervisor from a frozen Config.
func NewSupervisor(cfg *config.Config) *Supervisor {
	return &Supervisor{
		FFmpegPath:        cfg.Params.FFmpegPath,
		FFprobePath:       cfg.Params.FFprobePath,
		Monitor:           governor.NewMonitor(cfg),
		DisableMonitoring: cfg.Params.DisableResourcesMonitoring,
	}
}

// Run launches ffmpeg with args, applies priority to the child process,
// scans stderr line-by-line (handing each line to onLine, e.g. for
// progress parsing), and gates continued execution on the memory
// governor. It returns ErrEncodingFailed on non-zero exit,
// ErrSubprocessNotFound if the binary is missing, governor.ErrLowResources
// if memory pressure killed the process tree (the caller is expected to
// sleep and retry per spec.md §4.10), or ErrCancelled if ctx was
// cancelled (the process tree is killed before returning).
func (s *Supervisor) Run(ctx context.Context, args []string, priority config.Priority, onLine func(string)) error {
	cmd := exec.Command(s.FFmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrSubprocessNotFound, err)
		}
		return fmt.Errorf("%w: %v", ErrSubprocessNotFound, err)
	}

	if !s.DisableMonitoring {
		governor.SetPriority(cmd.Process.Pid, priority)
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
		return scanner.Err()
	})
	g.Go(cmd.Wait)

	resultCh := make(chan error, 1)
	go func() { resultCh <- g.Wait() }()

	var lowRes chan error
	var cancelMonitor context.CancelFunc
	if !s.DisableMonitoring && s.Monitor != nil {
		var monitorCtx context.Context
		monitorCtx, cancelMonitor = context.WithCancel(context.Background())
		defer cancelMonitor()
		lowRes = make(chan error, 1)
		go func() { lowRes <- s.Monitor.Watch(monitorCtx, cmd.Process.Pid) }()
	}

	for {
		select {
		case err := <-resultCh:
			if cancelMonitor != nil {
				cancelMonitor()
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrEncodingFailed, err)
			}
			return nil
		case merr := <-lowRes:
			if merr == nil {
				continue
			}
			<-resultCh // reap the process, already killed by the monitor
			return merr
		case <-ctx.Done():
			logger.Warn("ffmpeg: cancelled, killing process tree", "pid", cmd.Process.Pid)
			if cancelMonitor != nil {
				cancelMonitor()
			}
			_ = governor.TerminateProcessTree(cmd.Process.Pid)
			<-resultCh
			return ErrCancelled
		}
	}
}
