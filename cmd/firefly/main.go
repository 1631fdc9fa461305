// Command firefly runs one pass of the resumable, VMAF-guided H.265
// transcoding pipeline of spec.md §4.11 over a configured input/output
// directory pair, then exits. Grounded on the teacher's cmd/shrinkray
// entry point for flag parsing and startup-banner style, reshaped from
// an HTTP-server-plus-worker-pool model to a single driven pass since
// spec.md has no persistent server surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gwlsn/firefly/internal/config"
	"github.com/gwlsn/firefly/internal/ffmpeg"
	"github.com/gwlsn/firefly/internal/lock"
	"github.com/gwlsn/firefly/internal/logger"
	"github.com/gwlsn/firefly/internal/pipeline"
	"github.com/gwlsn/firefly/internal/probe"
)

func main() {
	os.Exit(run())
}

func run() int {
	paramsPath := flag.String("config", "firefly.toml", "Path to the params TOML config file")
	metaPath := flag.String("meta", "", "Path to the companion meta TOML config file (optional)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	lockTimeout := flag.Duration("lock-timeout", config.LockTimeout*time.Second, "Timeout for application/job lock acquisition")
	flag.Parse()

	logger.Init(*logLevel)

	cfg, err := config.Load(*paramsPath, *metaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "firefly: %v\n", err)
		return 1
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                         FIREFLY                             ║")
	fmt.Println("║     Resumable VMAF-guided H.265 transcoding orchestrator    ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Input dir:    %s\n", cfg.Params.InputDir)
	fmt.Printf("  Output dir:   %s\n", cfg.Params.OutputDir)
	fmt.Printf("  CRF window:   [%d, %d]\n", cfg.Params.CRFMin, cfg.Params.CRFMax)
	fmt.Printf("  VMAF window:  [%.1f, %.1f]\n", cfg.Params.VMAFMin, cfg.Params.VMAFMax)
	fmt.Printf("  Preset:       %s\n", cfg.Params.EncoderPreset)
	fmt.Println()

	if cfg.Params.InputDir == "" || cfg.Params.OutputDir == "" {
		fmt.Fprintln(os.Stderr, "firefly: input_dir and output_dir must both be set")
		return 1
	}
	if err := os.MkdirAll(cfg.Params.OutputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "firefly: preparing output_dir: %v\n", err)
		return 1
	}

	lm := lock.NewManager(cfg.Params.OutputDir, *lockTimeout)
	prober := probe.NewProber(cfg.Params.FFprobePath)
	supervisor := ffmpeg.NewSupervisor(cfg)
	driver := pipeline.NewDriver(cfg, lm, prober, supervisor)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := driver.Run(ctx); err != nil {
		logger.Error("firefly: run failed", "error", err)
		return 1
	}
	return 0
}
