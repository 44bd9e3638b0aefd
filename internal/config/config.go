// Package config provides configuration management for go-srcbuild.
package config

import (
	"time"

	"github.com/randomizedcoder/go-srcbuild/internal/process"
	"github.com/randomizedcoder/go-srcbuild/internal/progress"
	"github.com/randomizedcoder/go-srcbuild/internal/supervisor"
	"github.com/randomizedcoder/go-srcbuild/internal/transfer"
	"github.com/randomizedcoder/go-srcbuild/internal/workspace"
)

// Commands accepted as the first positional argument.
const (
	CmdDownload   = "download"
	CmdDecompress = "decompress"
	CmdInstall    = "install"
	CmdBuild      = "build"
	CmdCleanup    = "cleanup"
	CmdCopy       = "copy"
	CmdServe      = "serve"
)

// Event sink modes for -events.
const (
	EventsLog  = "log"
	EventsJSON = "json"
	EventsNone = "none"
)

// Config holds all configuration options for a run.
type Config struct {
	// Command and its positional arguments
	Command string   `json:"command"`
	Args    []string `json:"args"`

	// Workspace
	TargetDir   string `json:"target_dir"`
	URLTemplate string `json:"url_template"`
	Name        string `json:"name"`

	// Install pipeline
	MakePath      string   `json:"make_path"`
	ConfigureArgs []string `json:"configure_args"`
	MakeTargets   []string `json:"make_targets"`

	// Runner
	PollInterval time.Duration `json:"poll_interval"`
	KillGrace    time.Duration `json:"kill_grace"` // 0 = SIGKILL immediately
	DrainTimeout time.Duration `json:"drain_timeout"`
	TailLines    int           `json:"tail_lines"`

	// Transfer
	ThrottleInterval time.Duration `json:"throttle_interval"`
	UserAgent        string        `json:"user_agent"`
	Timeout          time.Duration `json:"timeout"`

	// Observability
	MetricsAddr     string `json:"metrics_addr"`     // empty = disabled
	MetricsTextfile string `json:"metrics_textfile"` // empty = disabled
	Events          string `json:"events"`           // log, json, none
	TUIEnabled      bool   `json:"tui_enabled"`
	Verbose         bool   `json:"verbose"`
	LogFormat       string `json:"log_format"` // json, text
	LogLevel        string `json:"log_level"`

	// Control API
	ListenAddr string `json:"listen_addr"`

	// Diagnostics
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Workspace
		TargetDir:   ".",
		URLTemplate: supervisor.DefaultURLTemplate,
		Name:        supervisor.DefaultName,

		// Install pipeline
		MakePath:    "make",
		MakeTargets: []string{"install"},

		// Runner
		PollInterval: process.DefaultPollInterval,
		KillGrace:    0,
		DrainTimeout: process.DefaultDrainTimeout,
		TailLines:    supervisor.DefaultTailLines,

		// Transfer
		ThrottleInterval: progress.DefaultThrottleInterval,
		UserAgent:        transfer.DefaultUserAgent,
		Timeout:          30 * time.Second,

		// Observability
		MetricsAddr: "",
		Events:      EventsLog,
		TUIEnabled:  false,
		Verbose:     false,
		LogFormat:   "json",
		LogLevel:    "info",

		// Control API
		ListenAddr: "127.0.0.1:17093",
	}
}

// Version returns the version argument of download, build and cleanup.
func (c *Config) Version() string {
	switch c.Command {
	case CmdDownload, CmdBuild, CmdCleanup:
		return c.arg(0)
	}
	return ""
}

// ArchivePath returns the archive argument of decompress.
func (c *Config) ArchivePath() string {
	if c.Command != CmdDecompress {
		return ""
	}
	return c.arg(0)
}

// SourceDir returns the tree install operates on: the optional argument,
// else the target directory.
func (c *Config) SourceDir() string {
	if c.Command == CmdInstall && c.arg(0) != "" {
		return c.arg(0)
	}
	return c.TargetDir
}

// CopyPaths returns the from and to arguments of copy.
func (c *Config) CopyPaths() (from, to string) {
	if c.Command != CmdCopy {
		return "", ""
	}
	return c.arg(0), c.arg(1)
}

// RunsPipeline reports whether the command spawns configure and make.
func (c *Config) RunsPipeline() bool {
	return c.Command == CmdInstall || c.Command == CmdBuild || c.Command == CmdServe
}

// NeedsTarget reports whether the command writes under the target directory.
func (c *Config) NeedsTarget() bool {
	switch c.Command {
	case CmdDownload, CmdDecompress, CmdBuild, CmdServe:
		return true
	}
	return false
}

// InstallConfig returns the pipeline template for the supervisor.
func (c *Config) InstallConfig() process.InstallConfig {
	install := process.DefaultInstallConfig("")
	install.ConfigureArgs = append([]string(nil), c.ConfigureArgs...)
	if c.MakePath != "" {
		install.MakePath = c.MakePath
	}
	if len(c.MakeTargets) > 0 {
		install.MakeTargets = append([]string(nil), c.MakeTargets...)
	}
	return install
}

// ArchiveURL returns the download URL for the configured version.
func (c *Config) ArchiveURL() string {
	return workspace.ArchiveURL(c.URLTemplate, c.Version())
}

func (c *Config) arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}
