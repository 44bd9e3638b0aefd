package process

import (
	"path/filepath"
	"strings"
)

// Step names used by the install pipeline.
const (
	StepConfigure    = "configure"
	StepBuildInstall = "build-install"
)

// Step is one external command in a pipeline.
type Step struct {
	// Name identifies the step in events, logs and errors.
	Name string

	// Path is the executable. A bare name is resolved through PATH.
	Path string

	// Args are passed after Path.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is appended to the inherited environment.
	Env []string
}

// String renders the step as a shell-like command line.
func (s Step) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Path)
	parts = append(parts, s.Args...)
	return strings.Join(parts, " ")
}

// InstallConfig describes the configure and build-install pipeline for one
// source tree.
type InstallConfig struct {
	// SourceDir is the extracted source tree containing ./configure.
	SourceDir string

	// ConfigureScript is relative to SourceDir.
	ConfigureScript string

	// ConfigureArgs are passed to the configure script.
	ConfigureArgs []string

	// MakePath is the make binary.
	MakePath string

	// MakeTargets run in a single make invocation.
	MakeTargets []string
}

// DefaultInstallConfig returns the configure then `make install` pipeline.
func DefaultInstallConfig(sourceDir string) InstallConfig {
	return InstallConfig{
		SourceDir:       sourceDir,
		ConfigureScript: "configure",
		MakePath:        "make",
		MakeTargets:     []string{"install"},
	}
}

// ConfigurePath returns the absolute location of the configure script.
func (c InstallConfig) ConfigurePath() string {
	return filepath.Join(c.SourceDir, c.ConfigureScript)
}

// Steps builds the ordered pipeline: configure, then build-install.
func (c InstallConfig) Steps() []Step {
	makePath := c.MakePath
	if makePath == "" {
		makePath = "make"
	}
	targets := c.MakeTargets
	if len(targets) == 0 {
		targets = []string{"install"}
	}

	return []Step{
		{
			Name: StepConfigure,
			Path: c.ConfigurePath(),
			Args: append([]string(nil), c.ConfigureArgs...),
			Dir:  c.SourceDir,
		},
		{
			Name: StepBuildInstall,
			Path: makePath,
			Args: append([]string(nil), targets...),
			Dir:  c.SourceDir,
		},
	}
}

// InstallSteps is shorthand for DefaultInstallConfig(sourceDir).Steps().
func InstallSteps(sourceDir string) []Step {
	return DefaultInstallConfig(sourceDir).Steps()
}
