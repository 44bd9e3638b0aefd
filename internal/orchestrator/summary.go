package orchestrator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
	"github.com/randomizedcoder/go-srcbuild/internal/transfer"
)

// printExitSummary prints the task result and the run's metrics.
func (o *Orchestrator) printExitSummary(summary supervisor.Summary, err error) {
	w := o.out
	stats := o.metrics.GenerateSummary()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                       go-srcbuild Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Command:                %s\n", o.config.Command)
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(stats.Duration))
	fmt.Fprintf(w, "Result:                 %s\n", resultLine(summary, err))
	if summary.Path != "" {
		fmt.Fprintf(w, "Path:                   %s\n", summary.Path)
	}
	fmt.Fprintln(w)

	var stepErr *supervisor.StepError
	if errors.As(err, &stepErr) && len(stepErr.Tail) > 0 {
		fmt.Fprintf(w, "Last output of %s:\n", stepErr.Step)
		for _, line := range stepErr.Tail {
			fmt.Fprintf(w, "  %s\n", line)
		}
		fmt.Fprintln(w)
	}

	if stats.BytesDownloaded > 0 {
		fmt.Fprintf(w, "Downloaded:             %s\n", formatBytes(stats.BytesDownloaded))
		fmt.Fprintln(w)
	}

	if len(stats.Steps) > 0 {
		fmt.Fprintln(w, "Steps:")
		for _, s := range stats.Steps {
			fmt.Fprintf(w, "  %-16s n=%d p50=%s p95=%s p99=%s", s.Step, s.Count,
				formatSeconds(s.P50), formatSeconds(s.P95), formatSeconds(s.P99))
			if n := stats.StepFailures[s.Step]; n > 0 {
				fmt.Fprintf(w, " failed=%d", n)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	if len(stats.OutputLines) > 0 {
		fmt.Fprintln(w, "Output Lines:")
		for _, stream := range sortedKeys(stats.OutputLines) {
			fmt.Fprintf(w, "  %-16s %d\n", stream, stats.OutputLines[stream])
		}
		fmt.Fprintln(w)
	}

	if stats.Aborts > 0 {
		fmt.Fprintf(w, "Abort Latency (max):    %s\n", formatSeconds(stats.MaxAbortLatency))
		fmt.Fprintln(w)
	}

	if o.config.MetricsAddr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", o.config.MetricsAddr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// resultLine describes how the task ended.
func resultLine(summary supervisor.Summary, err error) string {
	if err == nil {
		return summary.Message
	}

	var stepErr *supervisor.StepError
	var transferErr *transfer.Error
	switch {
	case errors.As(err, &transferErr):
		return fmt.Sprintf("failed (%s): %v", transferErr.Kind, err)
	case errors.As(err, &stepErr):
		return fmt.Sprintf("failed at %s: %v", stepErr.Step, stepErr.Err)
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return "rejected: " + err.Error()
	}
	return "failed: " + err.Error()
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatSeconds formats short durations with millisecond precision.
func formatSeconds(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
