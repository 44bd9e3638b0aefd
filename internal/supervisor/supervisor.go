package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-srcbuild/internal/archive"
	"github.com/randomizedcoder/go-srcbuild/internal/events"
	"github.com/randomizedcoder/go-srcbuild/internal/logging"
	"github.com/randomizedcoder/go-srcbuild/internal/process"
	"github.com/randomizedcoder/go-srcbuild/internal/progress"
	"github.com/randomizedcoder/go-srcbuild/internal/transfer"
	"github.com/randomizedcoder/go-srcbuild/internal/workspace"
)

const (
	// DefaultName is the archive and source tree base name.
	DefaultName = "cmus"

	// DefaultURLTemplate is the release archive location.
	DefaultURLTemplate = "https://github.com/cmus/cmus/archive/refs/tags/{version}.zip"

	// DefaultTailLines is how much output a StepError carries.
	DefaultTailLines = 20

	// StepDownload and StepExtract name the non-process pipeline steps.
	StepDownload = "download"
	StepExtract  = "extract"
)

var (
	// ErrAlreadyRunning is returned when a task is started while another holds
	// the slot. Requests are never queued.
	ErrAlreadyRunning = errors.New("a task is already running")

	// ErrTaskPanicked wraps a panic recovered from a task.
	ErrTaskPanicked = errors.New("task panicked")
)

// Kind names a task type.
type Kind string

const (
	KindDownload   Kind = "download"
	KindDecompress Kind = "decompress"
	KindInstall    Kind = "install"
	KindBuild      Kind = "build"
)

// Outcome is how a task that returned no error ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeAborted   Outcome = "aborted"
)

// Summary describes a finished task.
type Summary struct {
	ID       uuid.UUID     `json:"id"`
	Kind     Kind          `json:"kind"`
	Outcome  Outcome       `json:"outcome"`
	Message  string        `json:"message"`
	Path     string        `json:"path,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State   State     `json:"-"`
	Name    string    `json:"state"`
	TaskID  uuid.UUID `json:"task_id,omitzero"`
	Kind    Kind      `json:"kind,omitempty"`
	Started time.Time `json:"started,omitzero"`
}

// StepError reports a failed pipeline step. Err is the underlying error
// unmodified; Tail holds the last lines of the step's output.
type StepError struct {
	Step string
	Err  error
	Tail []string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Fetcher downloads a URL to a file.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, sink transfer.Sink) error
}

// StepRunner executes one pipeline step.
type StepRunner interface {
	Execute(ctx context.Context, step process.Step, abort process.AbortSignal, sink process.EventSink) error
}

// ExtractFunc unpacks an archive and returns the extracted root.
type ExtractFunc func(archivePath, outputDir string, progressCb archive.ProgressFunc) (string, error)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called after every task state transition.
	OnStateChange func(oldState, newState State)

	// OnTaskStart is called once a task holds the slot.
	OnTaskStart func(id uuid.UUID, kind Kind)

	// OnTaskEnd is called after the slot is released.
	OnTaskEnd func(summary Summary, err error)

	// OnStepStart is called before each pipeline step.
	OnStepStart func(step string)

	// OnStepEnd is called after each pipeline step.
	OnStepEnd func(step string, duration time.Duration, err error)

	// OnAbortObserved is called when a runner acts on an abort request.
	OnAbortObserved func(latency time.Duration)

	// OnDownloadProgress receives every throttled and final snapshot.
	OnDownloadProgress func(snapshot progress.Snapshot, final bool)

	// OnOutputLine is called for every child output line.
	OnOutputLine func(stream process.Stream)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Fetcher   Fetcher
	Runner    StepRunner
	Extract   ExtractFunc
	Workspace *workspace.Workspace
	Emitter   events.Emitter
	Logger    *slog.Logger
	Callbacks Callbacks

	// Name is the archive and source tree base name. Default: cmus
	Name string

	// URLTemplate locates the archive; {version} is substituted.
	URLTemplate string

	// Install is the pipeline template; SourceDir is set per task.
	Install process.InstallConfig

	// TailLines bounds the output attached to a StepError.
	TailLines int

	// Verbose logs every output line instead of only warnings.
	Verbose bool
}

// Supervisor runs at most one task at a time.
type Supervisor struct {
	state     *TaskState
	fetcher   Fetcher
	runner    StepRunner
	extract   ExtractFunc
	ws        *workspace.Workspace
	emitter   events.Emitter
	logger    *slog.Logger
	callbacks Callbacks

	name        string
	urlTemplate string
	install     process.InstallConfig
	tailLines   int
	lines       *logging.LineLog

	current   Status
	currentMu sync.Mutex
}

// task is the per-run context handed to task bodies.
type task struct {
	id    uuid.UUID
	kind  Kind
	abort *abortView
}

// New creates a Supervisor, filling defaults for unset fields.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = transfer.NewFetcher(transfer.Options{Logger: cfg.Logger})
	}
	if cfg.Runner == nil {
		cfg.Runner = process.NewRunner(process.Options{Logger: cfg.Logger})
	}
	if cfg.Extract == nil {
		cfg.Extract = archive.ExtractWithProgress
	}
	if cfg.Workspace == nil {
		cfg.Workspace = workspace.New(nil)
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Discard
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if cfg.Install.ConfigureScript == "" {
		tmpl := process.DefaultInstallConfig("")
		tmpl.ConfigureArgs = cfg.Install.ConfigureArgs
		if cfg.Install.MakePath != "" {
			tmpl.MakePath = cfg.Install.MakePath
		}
		if len(cfg.Install.MakeTargets) > 0 {
			tmpl.MakeTargets = cfg.Install.MakeTargets
		}
		cfg.Install = tmpl
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}

	s := &Supervisor{
		fetcher:     cfg.Fetcher,
		runner:      cfg.Runner,
		extract:     cfg.Extract,
		ws:          cfg.Workspace,
		emitter:     cfg.Emitter,
		logger:      cfg.Logger,
		callbacks:   cfg.Callbacks,
		name:        cfg.Name,
		urlTemplate: cfg.URLTemplate,
		install:     cfg.Install,
		tailLines:   cfg.TailLines,
		lines:       logging.NewLineLog(cfg.Logger, cfg.TailLines*5, cfg.Verbose),
	}
	s.state = NewTaskState(s.stateChanged)
	return s
}

// State returns the current task state.
func (s *Supervisor) State() State {
	return s.state.Get()
}

// Status returns the state plus the running task, if any.
func (s *Supervisor) Status() Status {
	s.currentMu.Lock()
	st := s.current
	s.currentMu.Unlock()

	st.State = s.state.Get()
	st.Name = st.State.String()
	if !st.State.IsActive() {
		st.TaskID, st.Kind, st.Started = uuid.Nil, "", time.Time{}
	}
	return st
}

// RecentOutput returns up to n of the last output lines of the current or
// most recent task.
func (s *Supervisor) RecentOutput(n int) []string {
	return s.lines.RecentLines(n)
}

// RequestAbort asks the running task to stop. It reports whether a task was
// running. Termination happens asynchronously in the runner.
func (s *Supervisor) RequestAbort() bool {
	ok := s.state.RequestAbort()
	s.logger.Info("abort_requested", "accepted", ok, "state", s.state.Get().String())
	return ok
}

// StartDownload fetches the archive for version into targetDir.
func (s *Supervisor) StartDownload(ctx context.Context, version, targetDir string) (Summary, error) {
	return s.run(ctx, KindDownload, func(ctx context.Context, t *task) (string, string, error) {
		path, err := s.download(ctx, version, targetDir)
		if err != nil {
			return "", "", err
		}
		return "Download finished successfully", path, nil
	})
}

// Decompress extracts archivePath into targetDir and deletes the archive.
func (s *Supervisor) Decompress(ctx context.Context, archivePath, targetDir string) (Summary, error) {
	return s.run(ctx, KindDecompress, func(ctx context.Context, t *task) (string, string, error) {
		root, err := s.decompress(archivePath, targetDir)
		if err != nil {
			return "", "", err
		}
		return "Decompression successful", root, nil
	})
}

// StartInstall runs configure then build-install in sourceDir.
func (s *Supervisor) StartInstall(ctx context.Context, sourceDir string) (Summary, error) {
	return s.run(ctx, KindInstall, func(ctx context.Context, t *task) (string, string, error) {
		if err := s.installSteps(ctx, t, sourceDir); err != nil {
			return "", "", err
		}
		return "Installation successful", sourceDir, nil
	})
}

// Build runs download, extract and install for version as one task. An abort
// requested during download or extraction takes effect before the next step.
func (s *Supervisor) Build(ctx context.Context, version, targetDir string) (Summary, error) {
	return s.run(ctx, KindBuild, func(ctx context.Context, t *task) (string, string, error) {
		archivePath, err := s.download(ctx, version, targetDir)
		if err != nil {
			return "", "", err
		}
		if err := checkpoint(t); err != nil {
			return "", "", err
		}

		root, err := s.decompress(archivePath, targetDir)
		if err != nil {
			return "", "", err
		}
		if err := checkpoint(t); err != nil {
			return "", "", err
		}

		if err := s.installSteps(ctx, t, root); err != nil {
			return "", "", err
		}
		return "Build finished successfully", root, nil
	})
}

// run is the task primitive: claim the slot, run fn, always release.
func (s *Supervisor) run(ctx context.Context, kind Kind, fn func(context.Context, *task) (string, string, error)) (summary Summary, err error) {
	if !s.state.tryAcquire() {
		s.logger.Warn("task_rejected", "kind", kind, "reason", "already_running")
		return Summary{}, ErrAlreadyRunning
	}

	t := &task{
		id:   uuid.New(),
		kind: kind,
		abort: &abortView{
			state: s.state,
			onAck: s.callbacks.OnAbortObserved,
		},
	}
	started := time.Now()
	summary = Summary{ID: t.id, Kind: kind, Started: started}

	s.setCurrent(Status{TaskID: t.id, Kind: kind, Started: started})
	s.lines.Reset()
	s.logger.Info("task_started", "task_id", t.id.String(), "kind", kind)
	if s.callbacks.OnTaskStart != nil {
		s.callbacks.OnTaskStart(t.id, kind)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task_panicked",
				"task_id", t.id.String(),
				"kind", kind,
				"panic", fmt.Sprint(r),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}

		summary.Duration = time.Since(started)
		if err != nil {
			summary = Summary{ID: t.id, Kind: kind, Started: started, Duration: summary.Duration}
		}

		s.state.release()
		s.setCurrent(Status{})

		s.logTaskEnd(summary, err)
		if s.callbacks.OnTaskEnd != nil {
			s.callbacks.OnTaskEnd(summary, err)
		}
	}()

	message, path, err := fn(ctx, t)
	if errors.Is(err, process.ErrAborted) {
		summary.Outcome = OutcomeAborted
		summary.Message = fmt.Sprintf("%s aborted", titleCase(string(kind)))
		return summary, nil
	}
	if err != nil {
		return Summary{}, err
	}

	summary.Outcome = OutcomeSucceeded
	summary.Message = message
	summary.Path = path
	return summary, nil
}

func (s *Supervisor) logTaskEnd(summary Summary, err error) {
	if err != nil {
		s.logger.Error("task_failed",
			"task_id", summary.ID.String(),
			"kind", summary.Kind,
			"duration", summary.Duration.String(),
			"error", err,
		)
		return
	}
	s.logger.Info("task_finished",
		"task_id", summary.ID.String(),
		"kind", summary.Kind,
		"outcome", summary.Outcome,
		"duration", summary.Duration.String(),
	)
}

// download fetches the archive and returns its path.
func (s *Supervisor) download(ctx context.Context, version, targetDir string) (string, error) {
	url := workspace.ArchiveURL(s.urlTemplate, version)
	dest := workspace.ArchivePath(targetDir, s.name, version)

	sink := transfer.SinkFuncs{
		OnProgress: func(p progress.Snapshot) {
			s.emit(events.DownloadProgress, events.DownloadPayload{Percentage: p.Percentage})
			if s.callbacks.OnDownloadProgress != nil {
				s.callbacks.OnDownloadProgress(p, false)
			}
		},
		OnFinished: func(p progress.Snapshot) {
			s.emit(events.DownloadFinished, events.DownloadPayload{Percentage: p.Percentage})
			if s.callbacks.OnDownloadProgress != nil {
				s.callbacks.OnDownloadProgress(p, true)
			}
		},
	}

	s.logger.Info("download_started", "url", url, "dest", dest)
	err := s.timeStep(StepDownload, func() error {
		return s.fetcher.Fetch(ctx, url, dest, sink)
	})
	if err != nil {
		return "", &StepError{Step: StepDownload, Err: err}
	}
	return dest, nil
}

// decompress extracts the archive, reporting progress as messages.
func (s *Supervisor) decompress(archivePath, targetDir string) (string, error) {
	var root string
	err := s.timeStep(StepExtract, func() error {
		var err error
		root, err = s.extract(archivePath, targetDir, func(done, total int) {
			if done%10 != 1 {
				return
			}
			if total > 0 {
				s.emitMessage(fmt.Sprintf("Extracting %d/%d files...", done, total))
			} else {
				s.emitMessage(fmt.Sprintf("Extracting %d files...", done))
			}
		})
		return err
	})
	if err != nil {
		return "", &StepError{Step: StepExtract, Err: err}
	}
	s.emitMessage(fmt.Sprintf("Extraction complete into %s", root))
	return root, nil
}

// installSteps runs configure then build-install, stopping at the first
// failure.
func (s *Supervisor) installSteps(ctx context.Context, t *task, sourceDir string) error {
	cfg := s.install
	cfg.SourceDir = sourceDir

	if err := s.ws.EnsureExecutable(cfg.ConfigurePath()); err != nil {
		s.logger.Error("chmod_failed", "path", cfg.ConfigurePath(), "error", err)
		return &StepError{Step: process.StepConfigure, Err: err}
	}
	if script := filepath.Join(sourceDir, "scripts", "install"); s.ws.Exists(script) {
		if err := s.ws.EnsureExecutable(script); err != nil {
			s.logger.Warn("chmod_failed", "path", script, "error", err)
		}
	}

	for _, step := range cfg.Steps() {
		if err := s.runStep(ctx, t, step); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) runStep(ctx context.Context, t *task, step process.Step) error {
	sink := func(e process.Event) {
		if e.Kind == process.EventLine {
			s.lines.Record(step.Name, string(e.Stream), e.Text)
			if s.callbacks.OnOutputLine != nil {
				s.callbacks.OnOutputLine(e.Stream)
			}
		}
		s.emitMessage(e.Message())
	}

	err := s.timeStep(step.Name, func() error {
		return s.runner.Execute(ctx, step, t.abort, sink)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, process.ErrAborted):
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("%s: %w", step.Name, err)
	default:
		return &StepError{Step: step.Name, Err: err, Tail: s.lines.RecentLines(s.tailLines)}
	}
}

// timeStep wraps fn with the step callbacks.
func (s *Supervisor) timeStep(name string, fn func() error) error {
	if s.callbacks.OnStepStart != nil {
		s.callbacks.OnStepStart(name)
	}
	start := time.Now()
	err := fn()
	if s.callbacks.OnStepEnd != nil {
		s.callbacks.OnStepEnd(name, time.Since(start), err)
	}
	return err
}

// checkpoint ends a pipeline between steps when an abort is pending.
func checkpoint(t *task) error {
	if t.abort.AbortRequested() {
		t.abort.Acknowledge()
		return process.ErrAborted
	}
	return nil
}

func (s *Supervisor) stateChanged(oldState, newState State) {
	s.emit(events.TaskState, events.StatePayload{State: newState.String()})
	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

func (s *Supervisor) setCurrent(st Status) {
	s.currentMu.Lock()
	s.current = st
	s.currentMu.Unlock()
}

func (s *Supervisor) emitMessage(message string) {
	if message == "" {
		return
	}
	s.emit(events.Progress, events.MessagePayload{Message: message})
}

// emit delivers best-effort; a failed delivery never fails the task.
func (s *Supervisor) emit(name string, payload any) {
	if err := s.emitter.Emit(name, payload); err != nil {
		s.logger.Debug("emit_failed", "event", name, "error", err)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
