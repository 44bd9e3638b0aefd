// Package orchestrator wires configuration, the supervisor and its front ends
// (event sinks, dashboard, control API, metrics) into one command run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-srcbuild/internal/api"
	"github.com/randomizedcoder/go-srcbuild/internal/config"
	"github.com/randomizedcoder/go-srcbuild/internal/events"
	"github.com/randomizedcoder/go-srcbuild/internal/metrics"
	"github.com/randomizedcoder/go-srcbuild/internal/preflight"
	"github.com/randomizedcoder/go-srcbuild/internal/process"
	"github.com/randomizedcoder/go-srcbuild/internal/progress"
	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
	"github.com/randomizedcoder/go-srcbuild/internal/transfer"
	"github.com/randomizedcoder/go-srcbuild/internal/tui"
	"github.com/randomizedcoder/go-srcbuild/internal/workspace"
)

// ErrAborted is returned by Run when the task ended because of an abort.
var ErrAborted = errors.New("task aborted")

// shutdownTimeout bounds stopping the metrics and API servers.
const shutdownTimeout = 10 * time.Second

// Options replaces collaborators New would otherwise build. Zero fields get
// the production defaults.
type Options struct {
	Fetcher   supervisor.Fetcher
	Runner    supervisor.StepRunner
	Workspace *workspace.Workspace

	// Registry receives the collector. Default: a fresh registry with the Go
	// and process collectors.
	Registry *prometheus.Registry

	// Output receives preflight results and the exit summary.
	// Default: stdout, or stderr when events are written as JSON.
	Output io.Writer

	// EventOutput receives JSON events. Default: stdout.
	EventOutput io.Writer

	// Signals replaces SIGINT/SIGTERM delivery.
	Signals <-chan os.Signal
}

// Orchestrator coordinates all components for one command.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	ws            *workspace.Workspace
	supervisor    *supervisor.Supervisor
	sinks         events.Emitter
	broadcaster   *events.Broadcaster
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	signals       <-chan os.Signal

	// ui is set before a dashboard task starts and never changes after.
	ui        tui.Sender
	uiEmitter *tui.Emitter
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions creates an Orchestrator with replaced collaborators.
func NewWithOptions(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventOutput == nil {
		opts.EventOutput = os.Stdout
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
		if cfg.Events == config.EventsJSON {
			opts.Output = os.Stderr
		}
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if opts.Workspace == nil {
		opts.Workspace = workspace.New(nil)
	}
	if opts.Fetcher == nil {
		opts.Fetcher = transfer.NewFetcher(transfer.Options{
			HeaderTimeout:    cfg.Timeout,
			UserAgent:        cfg.UserAgent,
			ThrottleInterval: cfg.ThrottleInterval,
			Logger:           logger,
		})
	}
	if opts.Runner == nil {
		opts.Runner = process.NewRunner(process.Options{
			PollInterval: cfg.PollInterval,
			KillGrace:    cfg.KillGrace,
			DrainTimeout: cfg.DrainTimeout,
			Logger:       logger,
		})
	}

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		out:      opts.Output,
		ws:       opts.Workspace,
		registry: opts.Registry,
		signals:  opts.Signals,
		metrics: metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
			Version: cfg.Version(),
			Target:  cfg.TargetDir,
		}, opts.Registry),
	}

	// Event sinks
	var sinks events.Multi
	switch cfg.Events {
	case config.EventsJSON:
		sinks = append(sinks, events.NewJSONEmitter(opts.EventOutput))
	case config.EventsLog:
		level := slog.LevelDebug
		if cfg.Verbose {
			level = slog.LevelInfo
		}
		sinks = append(sinks, events.NewLogEmitter(logger, level))
	}
	if cfg.Command == config.CmdServe {
		o.broadcaster = events.NewBroadcaster(0)
		sinks = append(sinks, o.broadcaster)
	}
	o.sinks = sinks

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, opts.Registry, logger)
	}

	o.supervisor = supervisor.New(supervisor.Config{
		Fetcher:     opts.Fetcher,
		Runner:      opts.Runner,
		Workspace:   opts.Workspace,
		Emitter:     events.Func(o.emit),
		Logger:      logger,
		Name:        cfg.Name,
		URLTemplate: cfg.URLTemplate,
		Install:     cfg.InstallConfig(),
		TailLines:   cfg.TailLines,
		Verbose:     cfg.Verbose,
		Callbacks: supervisor.Callbacks{
			OnStateChange:      o.onStateChange,
			OnTaskStart:        o.onTaskStart,
			OnTaskEnd:          o.onTaskEnd,
			OnStepEnd:          o.onStepEnd,
			OnAbortObserved:    o.onAbortObserved,
			OnDownloadProgress: o.onDownloadProgress,
			OnOutputLine:       o.onOutputLine,
		},
	})
	o.metrics.SetState(o.supervisor.State().String())

	return o
}

// Run executes the configured command. It blocks until completion or signal.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Run preflight checks
	if !o.config.SkipPreflight {
		opts := preflight.Options{
			MakePath:       o.config.MakePath,
			NeedBuildTools: o.config.RunsPipeline(),
		}
		if o.config.NeedsTarget() {
			opts.TargetDir = o.config.TargetDir
		}
		result := preflight.RunAll(opts)
		preflight.FprintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer o.stopMetrics()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh, stopSignals := o.signalChannel()
	defer stopSignals()

	var err error
	switch o.config.Command {
	case config.CmdCleanup:
		err = o.cleanup()
	case config.CmdCopy:
		err = o.copy()
	case config.CmdServe:
		err = o.serve(ctx, sigCh)
	default:
		err = o.runTask(ctx, cancel, sigCh)
	}

	if o.config.MetricsTextfile != "" {
		if werr := metrics.WriteTextfile(o.config.MetricsTextfile, o.registry); werr != nil {
			o.logger.Warn("metrics_textfile_failed", "path", o.config.MetricsTextfile, "error", werr)
		}
	}

	return err
}

// runTask runs one supervised task, with the dashboard when enabled.
func (o *Orchestrator) runTask(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal) error {
	stopWatch := o.watchSignals(ctx, cancel, sigCh)
	defer stopWatch()

	var (
		summary supervisor.Summary
		err     error
	)
	if o.config.TUIEnabled {
		summary, err = o.runWithDashboard(ctx)
	} else {
		summary, err = o.startTask(ctx)
	}

	o.printExitSummary(summary, err)

	if err != nil {
		return err
	}
	if summary.Outcome == supervisor.OutcomeAborted {
		return ErrAborted
	}
	return nil
}

// startTask dispatches the command to the supervisor.
func (o *Orchestrator) startTask(ctx context.Context) (supervisor.Summary, error) {
	cfg := o.config
	switch cfg.Command {
	case config.CmdDownload:
		return o.supervisor.StartDownload(ctx, cfg.Version(), cfg.TargetDir)
	case config.CmdDecompress:
		return o.supervisor.Decompress(ctx, cfg.ArchivePath(), cfg.TargetDir)
	case config.CmdInstall:
		return o.supervisor.StartInstall(ctx, cfg.SourceDir())
	case config.CmdBuild:
		return o.supervisor.Build(ctx, cfg.Version(), cfg.TargetDir)
	}
	return supervisor.Summary{}, fmt.Errorf("unknown command %q", cfg.Command)
}

// runWithDashboard runs the task under a bubbletea program. Quitting the
// dashboard while the task runs requests an abort and waits for the task.
func (o *Orchestrator) runWithDashboard(ctx context.Context) (supervisor.Summary, error) {
	model := tui.New(tui.Config{
		Command:    strings.Join(append([]string{o.config.Command}, o.config.Args...), " "),
		Target:     o.config.TargetDir,
		Controller: o.supervisor,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	o.ui = p
	o.uiEmitter = tui.NewEmitter(p)

	type result struct {
		summary supervisor.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := o.startTask(ctx)
		tui.SendDone(p, summary, err)
		done <- result{summary, err}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		o.logger.Warn("dashboard_failed", "error", err)
	}

	select {
	case r := <-done:
		return r.summary, r.err
	default:
	}

	o.logger.Info("dashboard_closed", "action", "abort")
	o.supervisor.RequestAbort()
	r := <-done
	return r.summary, r.err
}

func (o *Orchestrator) cleanup() error {
	version := o.config.Version()
	if err := o.ws.Cleanup(o.config.TargetDir, o.config.Name, version); err != nil {
		o.logger.Error("cleanup_failed", "version", version, "error", err)
		return err
	}
	o.logger.Info("cleanup_finished", "version", version, "target", o.config.TargetDir)
	fmt.Fprintln(o.out, "Cleanup successful")
	return nil
}

func (o *Orchestrator) copy() error {
	from, to := o.config.CopyPaths()
	if err := o.ws.CopyDir(from, to); err != nil {
		o.logger.Error("copy_failed", "from", from, "to", to, "error", err)
		return err
	}
	o.logger.Info("copy_finished", "from", from, "to", to)
	fmt.Fprintln(o.out, "Copy successful")
	return nil
}

// serve runs the control API until ctx ends or a signal arrives.
func (o *Orchestrator) serve(ctx context.Context, sigCh <-chan os.Signal) error {
	server := api.New(api.Config{
		Supervisor:     o.supervisor,
		Workspace:      o.ws,
		Broadcaster:    o.broadcaster,
		Logger:         o.logger,
		Name:           o.config.Name,
		RequestLogging: o.config.Verbose,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(o.config.ListenAddr)
	}()

	var err error
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	case err = <-errCh:
		o.logger.Error("api_server_failed", "error", err)
	}

	// Stop a running task before the server drains its request.
	o.supervisor.RequestAbort()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		o.logger.Warn("api_server_shutdown_error", "error", serr)
	}
	return err
}

func (o *Orchestrator) stopMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// emit fans an event out to the configured sinks and the dashboard.
func (o *Orchestrator) emit(name string, payload any) error {
	var err error
	if o.sinks != nil {
		err = o.sinks.Emit(name, payload)
	}
	if o.uiEmitter != nil {
		o.uiEmitter.Emit(name, payload)
	}
	return err
}

// Callback handlers

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	o.metrics.SetState(newState.String())
}

func (o *Orchestrator) onTaskStart(id uuid.UUID, kind supervisor.Kind) {
	o.metrics.TaskStarted(string(kind))
}

func (o *Orchestrator) onTaskEnd(summary supervisor.Summary, err error) {
	outcome := string(summary.Outcome)
	if err != nil {
		outcome = "failed"
	}
	o.metrics.TaskEnded(string(summary.Kind), outcome, summary.Duration)
}

func (o *Orchestrator) onStepEnd(step string, d time.Duration, err error) {
	o.metrics.RecordStep(step, d, err != nil)
}

func (o *Orchestrator) onAbortObserved(latency time.Duration) {
	o.metrics.RecordAbortLatency(latency)
}

func (o *Orchestrator) onDownloadProgress(s progress.Snapshot, final bool) {
	o.metrics.RecordDownload(s.Transferred, s.Rate, s.Percentage, final)
	if o.ui != nil {
		tui.SendDownload(o.ui, s, final)
	}
}

func (o *Orchestrator) onOutputLine(stream process.Stream) {
	o.metrics.RecordOutputLine(string(stream))
}

// Supervisor returns the supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}
