package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// argList is a custom flag type for repeatable flags.
type argList []string

func (a *argList) String() string {
	return strings.Join(*a, ", ")
}

func (a *argList) Set(value string) error {
	*a = append(*a, value)
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses args (without the program name) and returns a Config.
// Usage and parse errors are written to output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	var configureArgs, makeTargets argList

	fs := flag.NewFlagSet("go-srcbuild", flag.ContinueOnError)
	fs.SetOutput(output)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `go-srcbuild - download, unpack and build a source release under supervision

Usage:
  go-srcbuild [flags] <command> [args]

Commands:
  download <version>      fetch the release archive into -target
  decompress <archive>    extract an archive into -target and delete it
  install [dir]           run configure and make install in dir (default -target)
  build <version>         download, extract and install in one task
  cleanup <version>       remove the extracted source tree
  copy <from> <to>        copy a directory tree
  serve                   run the HTTP control API

Workspace Flags:
`)
		printFlagCategory(fs, output, []string{"target", "url-template", "name"})

		fmt.Fprintf(output, "\nInstall Pipeline:\n")
		printFlagCategory(fs, output, []string{"make", "make-target", "configure-arg", "configure-args"})

		fmt.Fprintf(output, "\nSupervision:\n")
		printFlagCategory(fs, output, []string{"poll-interval", "kill-grace", "drain-timeout", "tail-lines"})

		fmt.Fprintf(output, "\nDownload:\n")
		printFlagCategory(fs, output, []string{"throttle", "user-agent", "timeout"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "metrics-textfile", "events", "v", "log-format", "log-level"})

		fmt.Fprintf(output, "\nDashboard & API:\n")
		printFlagCategory(fs, output, []string{"tui", "listen"})

		fmt.Fprintf(output, "\nDiagnostics:\n")
		printFlagCategory(fs, output, []string{"skip-preflight"})

		fmt.Fprintf(output, `
Examples:
  # Build a release into ./work with a live dashboard
  go-srcbuild -target ./work -tui build v2.10.0

  # Stream events as JSON lines for a host process
  go-srcbuild -events json -log-format text install ./work/cmus-v2.10.0

  # Serve the control API with metrics
  go-srcbuild -listen 127.0.0.1:17093 -metrics 127.0.0.1:17091 serve

`)
	}

	// Workspace
	fs.StringVar(&cfg.TargetDir, "target", cfg.TargetDir, "Directory that receives archives and source trees")
	fs.StringVar(&cfg.URLTemplate, "url-template", cfg.URLTemplate, "Archive URL; {version} is replaced")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Archive and source tree base name")

	// Install pipeline
	fs.StringVar(&cfg.MakePath, "make", cfg.MakePath, "Path to make")
	fs.Var(&makeTargets, "make-target", "make target (can repeat, default install)")
	fs.Var(&configureArgs, "configure-arg", "Argument passed to configure (can repeat)")
	configureLine := fs.String("configure-args", "", "Space-separated arguments passed to configure")

	// Supervision
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "How often a running step checks for abort")
	fs.DurationVar(&cfg.KillGrace, "kill-grace", cfg.KillGrace, "SIGTERM grace before SIGKILL on abort (0 = SIGKILL)")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "How long to wait for output after a step exits")
	fs.IntVar(&cfg.TailLines, "tail-lines", cfg.TailLines, "Output lines attached to a failed step")

	// Download
	fs.DurationVar(&cfg.ThrottleInterval, "throttle", cfg.ThrottleInterval, "Minimum spacing of download progress events")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "HTTP User-Agent header")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Time to wait for response headers")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", cfg.MetricsTextfile, "Write final metrics to this file (node_exporter textfile format)")
	fs.StringVar(&cfg.Events, "events", cfg.Events, `Event sink: "log", "json" (stdout) or "none"`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging (every output line)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn" or "error"`)

	// Dashboard & API
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Control API address for serve")

	// Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigureArgs = append(strings.Fields(*configureLine), configureArgs...)
	if len(makeTargets) > 0 {
		cfg.MakeTargets = makeTargets
	}

	// Positional arguments: command and its operands
	rest := fs.Args()
	if len(rest) >= 1 {
		cfg.Command = rest[0]
		cfg.Args = rest[1:]
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if f.DefValue != "0" {
		if _, err := time.ParseDuration(f.DefValue); err == nil {
			return "duration"
		}
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
