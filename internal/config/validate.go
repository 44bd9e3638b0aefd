package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/randomizedcoder/go-srcbuild/internal/workspace"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// commandArgs lists the required and maximum positional operands per command.
var commandArgs = map[string]struct{ min, max int }{
	CmdDownload:   {1, 1},
	CmdDecompress: {1, 1},
	CmdInstall:    {0, 1},
	CmdBuild:      {1, 1},
	CmdCleanup:    {1, 1},
	CmdCopy:       {2, 2},
	CmdServe:      {0, 0},
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Command is required and must be known
	if cfg.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "command",
			Message: "a command is required (download, decompress, install, build, cleanup, copy, serve)",
		})
	} else if want, ok := commandArgs[cfg.Command]; !ok {
		errs = append(errs, ValidationError{
			Field:   "command",
			Message: fmt.Sprintf("unknown command %q", cfg.Command),
		})
	} else if n := len(cfg.Args); n < want.min || n > want.max {
		errs = append(errs, ValidationError{
			Field:   "args",
			Message: fmt.Sprintf("%s takes %s (got %d)", cfg.Command, describeArity(want.min, want.max), n),
		})
	}

	if cfg.TargetDir == "" {
		errs = append(errs, ValidationError{
			Field:   "target",
			Message: "must not be empty",
		})
	}

	// Version must be usable in a file name
	if v := cfg.Version(); v != "" && strings.ContainsAny(v, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("must not contain path separators (got %q)", v),
		})
	}

	if cfg.Name == "" || strings.ContainsAny(cfg.Name, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "must be a non-empty file name",
		})
	}

	// URL template is only used by commands that download
	if cfg.Command == CmdDownload || cfg.Command == CmdBuild || cfg.Command == CmdServe {
		if err := validateURLTemplate(cfg.URLTemplate); err != nil {
			errs = append(errs, ValidationError{
				Field:   "url_template",
				Message: err.Error(),
			})
		}
	}

	if cfg.MakePath == "" {
		errs = append(errs, ValidationError{
			Field:   "make",
			Message: "must not be empty",
		})
	}

	// Durations
	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.KillGrace < 0 {
		errs = append(errs, ValidationError{
			Field:   "kill_grace",
			Message: "must not be negative",
		})
	}
	if cfg.DrainTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "drain_timeout",
			Message: "must be positive",
		})
	}
	if cfg.ThrottleInterval < 0 {
		errs = append(errs, ValidationError{
			Field:   "throttle",
			Message: "must not be negative",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must be positive",
		})
	}
	if cfg.TailLines < 1 {
		errs = append(errs, ValidationError{
			Field:   "tail_lines",
			Message: "must be at least 1",
		})
	}

	// Event sink must be valid
	validEvents := map[string]bool{EventsLog: true, EventsJSON: true, EventsNone: true}
	if !validEvents[cfg.Events] {
		errs = append(errs, ValidationError{
			Field:   "events",
			Message: fmt.Sprintf("must be 'log', 'json' or 'none' (got %q)", cfg.Events),
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// The dashboard owns the terminal
	if cfg.TUIEnabled && cfg.Events == EventsJSON {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "-tui cannot be combined with -events json (both use stdout)",
		})
	}
	if cfg.TUIEnabled && cfg.Command == CmdServe {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "-tui is not supported with serve",
		})
	}

	if cfg.Command == CmdServe && cfg.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "listen",
			Message: "serve requires a listen address",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURLTemplate checks that the template carries the version
// placeholder and expands to an http or https URL.
func validateURLTemplate(tmpl string) error {
	if !strings.Contains(tmpl, workspace.VersionPlaceholder) {
		return fmt.Errorf("must contain %s", workspace.VersionPlaceholder)
	}

	u, err := url.Parse(workspace.ArchiveURL(tmpl, "0.0.0"))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}

func describeArity(min, max int) string {
	switch {
	case min == max && min == 0:
		return "no arguments"
	case min == max && min == 1:
		return "exactly 1 argument"
	case min == max:
		return fmt.Sprintf("exactly %d arguments", min)
	default:
		return fmt.Sprintf("%d to %d arguments", min, max)
	}
}
