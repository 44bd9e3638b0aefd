// Package metrics provides Prometheus metrics for go-srcbuild.
//
// Metrics cover the task lifecycle (tasks by kind and outcome, current
// state), downloads (bytes, rate, percentage), child output (lines per
// stream) and pipeline steps (duration, failures, abort latency).
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "srcbuild"

// Collector manages all Prometheus metrics for the supervisor.
type Collector struct {
	info            *prometheus.GaugeVec
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	activeTask      prometheus.Gauge
	state           *prometheus.GaugeVec
	bytesDownloaded prometheus.Counter
	downloadRate    prometheus.Gauge
	downloadPercent prometheus.Gauge
	outputLines     *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	stepFailures    *prometheus.CounterVec
	abortLatency    prometheus.Histogram

	startTime time.Time

	mu              sync.Mutex
	lastTransferred uint64
	totalBytes      uint64
	tasks           map[string]int64
	failures        map[string]int64
	lines           map[string]int64
	stepDigests     map[string]*tdigest.TDigest
	stepCounts      map[string]int64
	maxAbortLatency time.Duration
	aborts          int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Target  string
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Build information (value always 1)",
		}, []string{"version", "target"}),

		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by kind and outcome",
		}, []string{"kind", "outcome"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task wall-clock duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind"}),

		activeTask: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_task",
			Help:      "1 while a task holds the slot",
		}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current task state (1 for the active state)",
		}, []string{"state"}),

		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Total bytes written by downloads",
		}),

		downloadRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_rate_bytes_per_second",
			Help:      "Average rate of the current or last download",
		}),

		downloadPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_percentage",
			Help:      "Completion of the current or last download (99.9 when the size is unknown)",
		}),

		outputLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_total",
			Help:      "Child output lines by stream",
		}, []string{"stream"}),

		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"step"}),

		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failed pipeline steps",
		}, []string{"step"}),

		abortLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "abort_latency_seconds",
			Help:      "Time from abort request to the runner acting on it",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.25, 0.5, 1},
		}),

		startTime:   time.Now(),
		tasks:       make(map[string]int64),
		failures:    make(map[string]int64),
		lines:       make(map[string]int64),
		stepDigests: make(map[string]*tdigest.TDigest),
		stepCounts:  make(map[string]int64),
	}

	registry.MustRegister(
		c.info,
		c.tasksTotal,
		c.taskDuration,
		c.activeTask,
		c.state,
		c.bytesDownloaded,
		c.downloadRate,
		c.downloadPercent,
		c.outputLines,
		c.stepDuration,
		c.stepFailures,
		c.abortLatency,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Target).Set(1)
	c.state.WithLabelValues("idle").Set(1)

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// SetState marks name as the current task state.
func (c *Collector) SetState(name string) {
	c.state.Reset()
	c.state.WithLabelValues(name).Set(1)
}

// TaskStarted records a task claiming the slot.
func (c *Collector) TaskStarted(kind string) {
	c.activeTask.Set(1)
}

// TaskEnded records a finished task. outcome is "succeeded", "aborted" or
// "failed".
func (c *Collector) TaskEnded(kind, outcome string, d time.Duration) {
	c.activeTask.Set(0)
	c.tasksTotal.WithLabelValues(kind, outcome).Inc()
	c.taskDuration.WithLabelValues(kind).Observe(d.Seconds())

	c.mu.Lock()
	c.tasks[kind+"/"+outcome]++
	c.mu.Unlock()
}

// RecordDownload records a progress snapshot. Snapshots of one download must
// arrive in order; final marks the last one.
func (c *Collector) RecordDownload(transferred uint64, rate, percentage float64, final bool) {
	c.mu.Lock()
	if transferred < c.lastTransferred {
		c.lastTransferred = 0
	}
	delta := transferred - c.lastTransferred
	c.lastTransferred = transferred
	c.totalBytes += delta
	if final {
		c.lastTransferred = 0
	}
	c.mu.Unlock()

	c.bytesDownloaded.Add(float64(delta))
	c.downloadRate.Set(rate)
	c.downloadPercent.Set(percentage)
}

// RecordOutputLine counts one child output line.
func (c *Collector) RecordOutputLine(stream string) {
	c.outputLines.WithLabelValues(stream).Inc()

	c.mu.Lock()
	c.lines[stream]++
	c.mu.Unlock()
}

// RecordStep records a finished pipeline step.
func (c *Collector) RecordStep(step string, d time.Duration, failed bool) {
	c.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if failed {
		c.stepFailures.WithLabelValues(step).Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	digest, ok := c.stepDigests[step]
	if !ok {
		digest = tdigest.NewWithCompression(100)
		c.stepDigests[step] = digest
	}
	digest.Add(d.Seconds(), 1)
	c.stepCounts[step]++
	if failed {
		c.failures[step]++
	}
}

// RecordAbortLatency records the time between an abort request and the
// runner acting on it.
func (c *Collector) RecordAbortLatency(d time.Duration) {
	c.abortLatency.Observe(d.Seconds())

	c.mu.Lock()
	c.aborts++
	if d > c.maxAbortLatency {
		c.maxAbortLatency = d
	}
	c.mu.Unlock()
}

// =============================================================================
// Summary Generation
// =============================================================================

// StepStats holds duration percentiles for one step.
type StepStats struct {
	Step  string
	Count int64
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration        time.Duration
	Tasks           map[string]int64
	StepFailures    map[string]int64
	OutputLines     map[string]int64
	BytesDownloaded uint64
	Steps           []StepStats
	Aborts          int64
	MaxAbortLatency time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:        time.Since(c.startTime),
		Tasks:           copyCounts(c.tasks),
		StepFailures:    copyCounts(c.failures),
		OutputLines:     copyCounts(c.lines),
		BytesDownloaded: c.totalBytes,
		Aborts:          c.aborts,
		MaxAbortLatency: c.maxAbortLatency,
	}

	for step, digest := range c.stepDigests {
		s.Steps = append(s.Steps, StepStats{
			Step:  step,
			Count: c.stepCounts[step],
			P50:   seconds(digest.Quantile(0.50)),
			P95:   seconds(digest.Quantile(0.95)),
			P99:   seconds(digest.Quantile(0.99)),
		})
	}
	sort.Slice(s.Steps, func(i, j int) bool { return s.Steps[i].Step < s.Steps[j].Step })

	return s
}

// =============================================================================
// Helper Functions
// =============================================================================

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
