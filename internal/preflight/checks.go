// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

const (
	// requiredFDs covers two pipes per step, the archive being written,
	// the HTTP connection and the optional listeners, with headroom.
	requiredFDs = 256

	// requiredProcs leaves room for make -j and the compilers it forks.
	requiredProcs = 128

	// recommendedFreeBytes is enough for a typical source tree plus objects.
	recommendedFreeBytes = 500 * 1000 * 1000
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll verifies.
type Options struct {
	// TargetDir must be writable (created if missing).
	TargetDir string

	// MakePath is checked when NeedBuildTools is set.
	MakePath string

	// NeedBuildTools is true for commands that run the install pipeline.
	NeedBuildTools bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors())
	if opts.TargetDir != "" {
		add(checkTargetDir(opts.TargetDir))
		// Warning only
		add(checkDiskSpace(opts.TargetDir))
	}
	if opts.NeedBuildTools {
		add(checkProcessLimit())
		add(checkMake(opts.MakePath))
		add(checkShell())
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<30) {
		actual = 1 << 30
	}

	return Check{
		Name:     "file_descriptors",
		Required: requiredFDs,
		Actual:   actual,
		Passed:   actual >= requiredFDs,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, requiredFDs),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit() Check {
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}
	return parseProcessLimit(string(data))
}

func parseProcessLimit(limits string) Check {
	// Parse "Max processes" line
	actual := 0
	for _, line := range strings.Split(limits, "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: requiredProcs,
		Actual:   actual,
		Passed:   actual >= requiredProcs,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, requiredProcs),
	}
}

// checkTargetDir verifies the target directory exists (or can be created)
// and accepts new files.
func checkTargetDir(dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{
			Name:    "target_dir",
			Passed:  false,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
		}
	}

	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{
			Name:    "target_dir",
			Passed:  false,
			Message: fmt.Sprintf("%s is not writable: %v", dir, err),
		}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return Check{
		Name:    "target_dir",
		Passed:  true,
		Message: fmt.Sprintf("%s is writable", abs),
	}
}

// checkDiskSpace warns when the target filesystem is nearly full.
func checkDiskSpace(dir string) Check {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return Check{
			Name:    "disk_space",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	free := st.Bavail * uint64(st.Bsize)
	return Check{
		Name:    "disk_space",
		Passed:  true, // Don't fail on this
		Warning: free < recommendedFreeBytes,
		Message: fmt.Sprintf("%d MB free (recommend %d MB)", free/1_000_000, recommendedFreeBytes/1_000_000),
	}
}

// checkMake verifies make is available and working.
func checkMake(path string) Check {
	if path == "" {
		path = "make"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "make",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	output, err := exec.Command(resolved, "--version").Output()
	version := "unknown"
	if err == nil {
		// "GNU Make 4.3"
		first := strings.SplitN(string(output), "\n", 2)[0]
		if parts := strings.Fields(first); len(parts) > 0 {
			version = parts[len(parts)-1]
		}
	}

	return Check{
		Name:    "make",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", resolved, version),
	}
}

// checkShell verifies /bin/sh exists for configure scripts.
func checkShell() Check {
	info, err := os.Stat("/bin/sh")
	if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
		return Check{
			Name:    "shell",
			Passed:  false,
			Message: "/bin/sh not found or not executable",
		}
	}
	return Check{
		Name:    "shell",
		Passed:  true,
		Message: "/bin/sh present",
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	FprintResults(os.Stdout, result)
}

// FprintResults prints the preflight check results to w.
func FprintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "make":
		return "install build tools (apt install build-essential / xcode-select --install) or pass -make"
	case "target_dir":
		return "choose a writable -target directory"
	case "shell":
		return "install a POSIX shell at /bin/sh"
	default:
		return "see documentation"
	}
}
