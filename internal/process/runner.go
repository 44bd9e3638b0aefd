// Package process runs external commands and multiplexes their output.
package process

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// DefaultPollInterval bounds abort latency.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultDrainTimeout bounds how long buffered output is read after exit.
	DefaultDrainTimeout = 5 * time.Second
)

// Options configures a Runner.
type Options struct {
	// PollInterval is how often the abort signal is checked.
	// Default: 100ms
	PollInterval time.Duration

	// KillGrace, when positive, sends SIGTERM to the process group first and
	// SIGKILL after the grace period. Zero kills immediately.
	KillGrace time.Duration

	// DrainTimeout bounds reading leftover output once the child has exited.
	// Descendants that inherited the pipes can otherwise hold them open.
	// Default: 5s
	DrainTimeout time.Duration

	// Logger receives lifecycle diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Runner spawns one child at a time per Execute call.
// A Runner holds no per-execution state and may be shared.
type Runner struct {
	poll      time.Duration
	killGrace time.Duration
	drain     time.Duration
	logger    *slog.Logger
}

// NewRunner creates a Runner, filling defaults for zero options.
func NewRunner(opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		poll:      opts.PollInterval,
		killGrace: opts.KillGrace,
		drain:     opts.DrainTimeout,
		logger:    opts.Logger,
	}
}

// PollInterval returns the abort poll interval.
func (r *Runner) PollInterval() time.Duration {
	return r.poll
}

// execution holds the resources of one running child.
type execution struct {
	step    Step
	cmd     *exec.Cmd
	readers []*os.File
	mux     *Multiplexer
	exitCh  chan error
	sink    EventSink
	logger  *slog.Logger
}

// Execute runs step to completion, forwarding each output line to sink as it
// arrives.
//
// It returns nil on exit code 0, *ExitError on a non-zero exit, *WaitError if
// waiting failed, *SpawnError if the child never started, ErrAborted when
// abort was observed and ctx.Err() when ctx ended first. The child is reaped
// on every path.
func (r *Runner) Execute(ctx context.Context, step Step, abort AbortSignal, sink EventSink) error {
	if abort == nil {
		abort = NeverAbort{}
	}
	if sink == nil {
		sink = func(Event) {}
	}

	ex, err := r.start(step, sink)
	if err != nil {
		r.logger.Error("step_spawn_failed",
			"step", step.Name,
			"path", step.Path,
			"error", err,
		)
		sink(Event{Kind: EventSpawnFailed, Step: step.Name, Reason: err.Error()})
		return &SpawnError{Step: step.Name, Err: err}
	}

	pid := ex.cmd.Process.Pid
	started := time.Now()
	r.logger.Info("step_started",
		"step", step.Name,
		"pid", pid,
		"command", step.String(),
	)

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	lines := ex.mux.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			ex.emitLine(line)

		case waitErr := <-ex.exitCh:
			r.drainLines(ex, lines)
			ex.release()

			code := extractExitCode(waitErr)
			r.logger.Info("step_exited",
				"step", step.Name,
				"pid", pid,
				"exit_code", code,
				"duration", time.Since(started).String(),
			)
			sink(Event{Kind: EventExited, Step: step.Name, Code: code, Success: waitErr == nil})
			return classifyWait(step.Name, waitErr, code)

		case <-ticker.C:
			if !abort.AbortRequested() {
				continue
			}
			abort.Acknowledge()
			r.logger.Info("step_abort_observed", "step", step.Name, "pid", pid)
			r.terminate(ex)
			ex.release()
			sink(Event{Kind: EventAborted, Step: step.Name})
			return ErrAborted

		case <-ctx.Done():
			r.logger.Warn("step_context_done",
				"step", step.Name,
				"pid", pid,
				"error", ctx.Err(),
			)
			r.terminate(ex)
			ex.release()
			return ctx.Err()
		}
	}
}

// start spawns the child with its own stdout and stderr pipes and process
// group, and begins reading and waiting.
func (r *Runner) start(step Step, sink EventSink) (*execution, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}

	cmd := exec.Command(step.Path, step.Args...)
	cmd.Dir = step.Dir
	if len(step.Env) > 0 {
		cmd.Env = append(os.Environ(), step.Env...)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	startErr := cmd.Start()

	// The child holds its own copies; the parent's write ends must be closed
	// so EOF arrives when the child (and its descendants) exit.
	stdoutW.Close()
	stderrW.Close()

	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, startErr
	}

	ex := &execution{
		step:    step,
		cmd:     cmd,
		readers: []*os.File{stdoutR, stderrR},
		mux: NewMultiplexer(
			NewPipeReader(StreamStdout, stdoutR),
			NewPipeReader(StreamStderr, stderrR),
		),
		exitCh: make(chan error, 1),
		sink:   sink,
		logger: r.logger,
	}
	ex.mux.Start()

	go func() {
		ex.exitCh <- cmd.Wait()
	}()

	return ex, nil
}

// drainLines forwards lines still buffered in the pipes after exit, bounded
// by the drain timeout.
func (r *Runner) drainLines(ex *execution, lines <-chan Line) {
	if lines == nil {
		return
	}

	timer := time.NewTimer(r.drain)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			ex.emitLine(line)
		case <-timer.C:
			_, read := ex.mux.Stats()
			r.logger.Warn("output_drain_timeout",
				"step", ex.step.Name,
				"timeout", r.drain.String(),
				"lines_read", read,
				"reason", "descendant processes still hold the output pipes",
			)
			return
		}
	}
}

// terminate signals the process group and waits for the child to be reaped.
func (r *Runner) terminate(ex *execution) {
	pid := ex.cmd.Process.Pid

	if r.killGrace > 0 {
		signalGroup(ex.cmd, syscall.SIGTERM)
		select {
		case <-ex.exitCh:
			return
		case <-time.After(r.killGrace):
			r.logger.Warn("force_killing_process",
				"step", ex.step.Name,
				"pid", pid,
				"grace", r.killGrace.String(),
			)
		}
	}

	signalGroup(ex.cmd, syscall.SIGKILL)
	<-ex.exitCh
}

// release stops the readers and closes the parent's read ends. After it
// returns no reader goroutine remains.
func (ex *execution) release() {
	ex.mux.Stop()
	for _, f := range ex.readers {
		f.Close()
	}
	ex.mux.Wait()
}

func (ex *execution) emitLine(line Line) {
	if line.Truncated {
		ex.logger.Warn("line_too_long",
			"step", ex.step.Name,
			"stream", string(line.Stream),
			"kept_bytes", len(line.Text),
		)
	}
	ex.sink(Event{
		Kind:   EventLine,
		Step:   ex.step.Name,
		Stream: line.Stream,
		Text:   line.Text,
	})
}

// signalGroup signals the child's process group, falling back to the child
// alone when the group is already gone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		_ = cmd.Process.Signal(sig)
	}
}

func classifyWait(step string, waitErr error, code int) error {
	if waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExitError{Step: step, Code: code}
	}
	return &WaitError{Step: step, Err: waitErr}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
