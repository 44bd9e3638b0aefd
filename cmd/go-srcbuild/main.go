// Package main provides the go-srcbuild CLI entry point.
//
// go-srcbuild downloads a source release, unpacks it and runs configure and
// make install under a supervisor that allows one task at a time and can
// abort it mid-step.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-srcbuild/internal/config"
	"github.com/randomizedcoder/go-srcbuild/internal/logging"
	"github.com/randomizedcoder/go-srcbuild/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-srcbuild
var version = "dev"

// exitAborted follows the shell convention for SIGINT.
const exitAborted = 130

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-srcbuild %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger.Info("starting",
		"version", version,
		"command", cfg.Command,
		"args", cfg.Args,
		"target", cfg.TargetDir,
		"events", cfg.Events,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch := orchestrator.New(cfg, logger)
	if err := orch.Run(context.Background()); err != nil {
		if errors.Is(err, orchestrator.ErrAborted) {
			logger.Info("aborted")
			return exitAborted
		}
		logger.Error("run_failed", "command", cfg.Command, "error", err)
		return 1
	}

	return 0
}
