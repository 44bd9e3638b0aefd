package preflight

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheck_String(t *testing.T) {
	t.Run("passed_with_required", func(t *testing.T) {
		c := Check{
			Name:     "test_check",
			Required: 100,
			Actual:   200,
			Passed:   true,
		}
		s := c.String()
		if !strings.Contains(s, "✓") {
			t.Error("Passed check should have ✓")
		}
		if !strings.Contains(s, "200") {
			t.Error("Should contain actual value")
		}
		if !strings.Contains(s, "100") {
			t.Error("Should contain required value")
		}
	})

	t.Run("failed_check", func(t *testing.T) {
		c := Check{
			Name:     "test_check",
			Required: 100,
			Actual:   50,
			Passed:   false,
		}
		if s := c.String(); !strings.Contains(s, "✗") {
			t.Error("Failed check should have ✗")
		}
	})

	t.Run("warning_check", func(t *testing.T) {
		c := Check{
			Name:    "test_check",
			Passed:  true,
			Warning: true,
			Message: "warning message",
		}
		s := c.String()
		if !strings.Contains(s, "⚠") {
			t.Error("Warning check should have ⚠")
		}
		if !strings.Contains(s, "warning message") {
			t.Error("Should contain message")
		}
	})
}

func checkNamed(result *Result, name string) (Check, bool) {
	for _, c := range result.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

func TestRunAll_DownloadOnly(t *testing.T) {
	result := RunAll(Options{TargetDir: t.TempDir()})

	for _, name := range []string{"file_descriptors", "target_dir", "disk_space"} {
		if _, ok := checkNamed(result, name); !ok {
			t.Errorf("missing %s check", name)
		}
	}
	for _, name := range []string{"make", "shell", "process_limit"} {
		if _, ok := checkNamed(result, name); ok {
			t.Errorf("%s check should only run for build commands", name)
		}
	}
	if c, _ := checkNamed(result, "target_dir"); !c.Passed {
		t.Errorf("target_dir should pass for a temp dir: %s", c.Message)
	}
}

func TestRunAll_BuildTools(t *testing.T) {
	// A stand-in for make that prints a version banner.
	dir := t.TempDir()
	fakeMake := filepath.Join(dir, "make")
	if err := os.WriteFile(fakeMake, []byte("#!/bin/sh\necho 'GNU Make 4.3'\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	result := RunAll(Options{TargetDir: t.TempDir(), MakePath: fakeMake, NeedBuildTools: true})

	c, ok := checkNamed(result, "make")
	if !ok {
		t.Fatal("missing make check")
	}
	if !c.Passed {
		t.Errorf("make check should pass: %s", c.Message)
	}
	if !strings.Contains(c.Message, "4.3") {
		t.Errorf("make message should carry the version: %s", c.Message)
	}
	if _, ok := checkNamed(result, "shell"); !ok {
		t.Error("missing shell check")
	}
}

func TestRunAll_MissingMake(t *testing.T) {
	result := RunAll(Options{MakePath: "/nonexistent/make", NeedBuildTools: true})

	c, ok := checkNamed(result, "make")
	if !ok {
		t.Fatal("missing make check")
	}
	if c.Passed {
		t.Error("make check should fail with invalid path")
	}
	if !strings.Contains(c.Message, "not found") {
		t.Errorf("Message should mention 'not found': %s", c.Message)
	}
	if result.Passed {
		t.Error("Result should fail when make is not found")
	}
}

func TestCheckMake_DefaultPath(t *testing.T) {
	if _, err := exec.LookPath("make"); err != nil {
		t.Skip("make not available, skipping")
	}
	if c := checkMake(""); !c.Passed {
		t.Errorf("checkMake(\"\") should find make on PATH: %s", c.Message)
	}
}

func TestCheckTargetDir(t *testing.T) {
	t.Run("creates_missing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		c := checkTargetDir(dir)
		if !c.Passed {
			t.Fatalf("should pass: %s", c.Message)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("target dir not created: %v", err)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("write test file left behind: %v", entries)
		}
	})

	t.Run("path_is_file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		if c := checkTargetDir(file); c.Passed {
			t.Error("a regular file is not a usable target dir")
		}
	})

	t.Run("read_only", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		dir := t.TempDir()
		if err := os.Chmod(dir, 0o555); err != nil {
			t.Fatal(err)
		}
		defer os.Chmod(dir, 0o755)
		if c := checkTargetDir(dir); c.Passed {
			t.Error("read-only dir should fail")
		}
	})
}

func TestCheckDiskSpace(t *testing.T) {
	c := checkDiskSpace(t.TempDir())
	if !c.Passed {
		t.Errorf("disk_space should never fail: %s", c.Message)
	}

	c = checkDiskSpace("/nonexistent/dir")
	if !c.Passed || !c.Warning {
		t.Errorf("unreadable path should warn, got %+v", c)
	}
}

func TestParseProcessLimit(t *testing.T) {
	tests := []struct {
		name       string
		limits     string
		wantActual int
		wantPassed bool
		wantWarn   bool
	}{
		{
			name:       "numeric",
			limits:     "Limit                     Soft Limit           Hard Limit           Units\nMax processes             63504                63504                processes\n",
			wantActual: 63504,
			wantPassed: true,
		},
		{
			name:       "unlimited",
			limits:     "Max processes             unlimited            unlimited            processes\n",
			wantActual: 1000000,
			wantPassed: true,
		},
		{
			name:       "too_low",
			limits:     "Max processes             32                   63504                processes\n",
			wantActual: 32,
			wantPassed: false,
		},
		{
			name:       "missing",
			limits:     "Max open files            1024                 4096                 files\n",
			wantPassed: true,
			wantWarn:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseProcessLimit(tt.limits)
			if c.Actual != tt.wantActual {
				t.Errorf("Actual = %d, want %d", c.Actual, tt.wantActual)
			}
			if c.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", c.Passed, tt.wantPassed)
			}
			if c.Warning != tt.wantWarn {
				t.Errorf("Warning = %v, want %v", c.Warning, tt.wantWarn)
			}
		})
	}
}

func TestCheckFileDescriptors(t *testing.T) {
	check := checkFileDescriptors()

	if check.Name != "file_descriptors" {
		t.Errorf("Name = %q, want file_descriptors", check.Name)
	}
	if check.Actual <= 0 {
		t.Errorf("Actual should be positive: %d", check.Actual)
	}
	if check.Required != requiredFDs {
		t.Errorf("Required = %d, want %d", check.Required, requiredFDs)
	}
	if check.Passed != (check.Actual >= check.Required) {
		t.Errorf("Passed = %v with actual=%d required=%d", check.Passed, check.Actual, check.Required)
	}
}

func TestSuggestFix(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
	}{
		{"file_descriptors", "ulimit -n"},
		{"process_limit", "ulimit -u"},
		{"make", "-make"},
		{"target_dir", "-target"},
		{"shell", "/bin/sh"},
		{"unknown", "documentation"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fix := suggestFix(tc.name)
			if !strings.Contains(fix, tc.expected) {
				t.Errorf("suggestFix(%q) = %q, should contain %q", tc.name, fix, tc.expected)
			}
		})
	}
}

func TestFprintResults(t *testing.T) {
	result := &Result{
		Checks: []Check{
			{Name: "test1", Passed: true, Message: "ok"},
			{Name: "make", Passed: false, Message: "not found"},
		},
		Passed: false,
	}

	var buf bytes.Buffer
	FprintResults(&buf, result)

	out := buf.String()
	if !strings.HasPrefix(out, "Preflight checks:") {
		t.Errorf("missing heading: %q", out)
	}
	if !strings.Contains(out, "Fix: install build tools") {
		t.Errorf("failed check should print a fix: %q", out)
	}
	if strings.Count(out, "Fix:") != 1 {
		t.Errorf("only failed checks get a fix line: %q", out)
	}
}
