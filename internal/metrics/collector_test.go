package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with a test registry.
func newTestCollector() (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(CollectorConfig{Version: "test", Target: "/tmp/build"}, registry)
	return c, registry
}

// =============================================================================
// Tests: Recording
// =============================================================================

func TestCollector_Tasks(t *testing.T) {
	c, _ := newTestCollector()

	c.TaskStarted("install")
	if got := testutil.ToFloat64(c.activeTask); got != 1 {
		t.Errorf("active_task = %v, want 1", got)
	}

	c.TaskEnded("install", "succeeded", 2*time.Second)
	c.TaskEnded("install", "aborted", time.Second)
	c.TaskEnded("download", "failed", time.Second)

	if got := testutil.ToFloat64(c.activeTask); got != 0 {
		t.Errorf("active_task = %v, want 0", got)
	}

	tests := []struct {
		kind, outcome string
		want          float64
	}{
		{"install", "succeeded", 1},
		{"install", "aborted", 1},
		{"download", "failed", 1},
		{"build", "succeeded", 0},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.outcome, func(t *testing.T) {
			got := testutil.ToFloat64(c.tasksTotal.WithLabelValues(tt.kind, tt.outcome))
			if got != tt.want {
				t.Errorf("tasks_total = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollector_State(t *testing.T) {
	c, _ := newTestCollector()

	c.SetState("running")
	c.SetState("abort_requested")

	if got := testutil.ToFloat64(c.state.WithLabelValues("abort_requested")); got != 1 {
		t.Errorf("state{abort_requested} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.state); n != 1 {
		t.Errorf("state series = %d, want 1", n)
	}
}

func TestCollector_RecordDownload(t *testing.T) {
	c, _ := newTestCollector()

	// First download: three throttled snapshots and a final one.
	c.RecordDownload(100, 100, 10, false)
	c.RecordDownload(500, 250, 50, false)
	c.RecordDownload(1000, 500, 100, true)

	// Second download starts from zero again.
	c.RecordDownload(200, 200, 99.9, false)
	c.RecordDownload(300, 300, 99.9, true)

	if got := testutil.ToFloat64(c.bytesDownloaded); got != 1300 {
		t.Errorf("download_bytes_total = %v, want 1300", got)
	}
	if got := testutil.ToFloat64(c.downloadPercent); got != 99.9 {
		t.Errorf("download_percentage = %v, want 99.9", got)
	}
	if got := testutil.ToFloat64(c.downloadRate); got != 300 {
		t.Errorf("download_rate = %v, want 300", got)
	}
	if got := c.GenerateSummary().BytesDownloaded; got != 1300 {
		t.Errorf("summary bytes = %d, want 1300", got)
	}
}

func TestCollector_OutputLines(t *testing.T) {
	c, _ := newTestCollector()
	for i := 0; i < 3; i++ {
		c.RecordOutputLine("stdout")
	}
	c.RecordOutputLine("stderr")

	if got := testutil.ToFloat64(c.outputLines.WithLabelValues("stdout")); got != 3 {
		t.Errorf("stdout lines = %v, want 3", got)
	}
	if got := c.GenerateSummary().OutputLines["stderr"]; got != 1 {
		t.Errorf("summary stderr lines = %d, want 1", got)
	}
}

func TestCollector_StepsAndSummary(t *testing.T) {
	c, _ := newTestCollector()

	for i := 1; i <= 100; i++ {
		c.RecordStep("configure", time.Duration(i)*time.Millisecond, false)
	}
	c.RecordStep("build-install", 30*time.Second, true)
	c.RecordAbortLatency(40 * time.Millisecond)
	c.RecordAbortLatency(90 * time.Millisecond)

	if got := testutil.ToFloat64(c.stepFailures.WithLabelValues("build-install")); got != 1 {
		t.Errorf("step_failures{build-install} = %v, want 1", got)
	}

	s := c.GenerateSummary()
	if len(s.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2", len(s.Steps))
	}
	// Sorted by step name.
	if s.Steps[0].Step != "build-install" || s.Steps[1].Step != "configure" {
		t.Errorf("step order = %s, %s", s.Steps[0].Step, s.Steps[1].Step)
	}

	cfg := s.Steps[1]
	if cfg.Count != 100 {
		t.Errorf("configure count = %d, want 100", cfg.Count)
	}
	if cfg.P50 < 40*time.Millisecond || cfg.P50 > 60*time.Millisecond {
		t.Errorf("configure p50 = %v, want ~50ms", cfg.P50)
	}
	if cfg.P99 < cfg.P50 {
		t.Errorf("p99 %v < p50 %v", cfg.P99, cfg.P50)
	}

	if s.StepFailures["build-install"] != 1 {
		t.Errorf("StepFailures = %v", s.StepFailures)
	}
	if s.Aborts != 2 || s.MaxAbortLatency != 90*time.Millisecond {
		t.Errorf("aborts = %d max = %v, want 2 and 90ms", s.Aborts, s.MaxAbortLatency)
	}
}

func TestCollector_DoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewCollectorWithRegistry(CollectorConfig{}, registry)

	defer func() {
		if recover() == nil {
			t.Error("second registration on the same registry should panic")
		}
	}()
	NewCollectorWithRegistry(CollectorConfig{}, registry)
}

// =============================================================================
// Tests: Exposition
// =============================================================================

func TestHandler_Endpoints(t *testing.T) {
	c, registry := newTestCollector()
	c.TaskEnded("build", "succeeded", time.Second)

	srv := httptest.NewServer(NewHandler(registry))
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/metrics", `srcbuild_tasks_total{kind="build",outcome="succeeded"} 1`},
		{"/health", "ok"},
		{"/healthz", "ok"},
		{"/ready", "ok"},
		{"/readyz", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d, want 200", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body missing %q:\n%s", tt.want, body)
			}
		})
	}
}

func TestWriteTextfile(t *testing.T) {
	c, registry := newTestCollector()
	registry.MustRegister(collectors.NewGoCollector())
	c.RecordDownload(4096, 1024, 100, true)
	c.RecordStep("configure", time.Second, false)

	path := filepath.Join(t.TempDir(), "srcbuild.prom")
	if err := WriteTextfile(path, registry); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(body)

	if !strings.Contains(out, "srcbuild_download_bytes_total 4096") {
		t.Errorf("textfile missing download bytes:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE srcbuild_step_duration_seconds histogram") {
		t.Errorf("textfile missing histogram type line:\n%s", out)
	}
	if strings.Contains(out, "go_goroutines") {
		t.Error("textfile should only contain srcbuild families")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, temp file not cleaned up", len(entries))
	}
}
