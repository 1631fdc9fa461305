package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gwlsn/firefly/internal/config"
)

// writeFakeBinary writes an executable shell script standing in for
// ffmpeg, used to drive Supervisor.Run without a real encoder present.
func writeFakeBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell script binaries require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func TestRunSucceedsAndStreamsStderrLines(t *testing.T) {
	bin := writeFakeBinary(t, `
echo "out_time_ms=1000000" >&2
echo "out_time_ms=2000000" >&2
exit 0
`)
	s := &Supervisor{FFmpegPath: bin, DisableMonitoring: true}

	var lines []string
	err := s.Run(context.Background(), nil, config.PriorityNormal, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 stderr lines, got %d: %v", len(lines), lines)
	}
}

func TestRunNonZeroExitReturnsEncodingFailed(t *testing.T) {
	bin := writeFakeBinary(t, `exit 1`)
	s := &Supervisor{FFmpegPath: bin, DisableMonitoring: true}

	err := s.Run(context.Background(), nil, config.PriorityNormal, nil)
	if !errors.Is(err, ErrEncodingFailed) {
		t.Fatalf("expected ErrEncodingFailed, got %v", err)
	}
}

func TestRunMissingBinaryReturnsSubprocessNotFound(t *testing.T) {
	s := &Supervisor{FFmpegPath: filepath.Join(t.TempDir(), "does-not-exist"), DisableMonitoring: true}

	err := s.Run(context.Background(), nil, config.PriorityNormal, nil)
	if !errors.Is(err, ErrSubprocessNotFound) {
		t.Fatalf("expected ErrSubprocessNotFound, got %v", err)
	}
}

func TestRunCancellationKillsProcessAndReturnsCancelled(t *testing.T) {
	bin := writeFakeBinary(t, `sleep 5`)
	s := &Supervisor{FFmpegPath: bin, DisableMonitoring: true}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx, nil, config.PriorityNormal, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}
