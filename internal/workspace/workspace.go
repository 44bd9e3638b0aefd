// Package workspace names and manages the files a build leaves in its target
// directory.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// VersionPlaceholder is replaced in URL templates.
const VersionPlaceholder = "{version}"

// ErrNotDirectory is returned when a copy source is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Workspace performs filesystem operations against fs.
type Workspace struct {
	fs afero.Fs
}

// New returns a Workspace over fs. A nil fs uses the OS filesystem.
func New(fs afero.Fs) *Workspace {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Workspace{fs: fs}
}

// ArchiveURL expands the version placeholder in template.
func ArchiveURL(template, version string) string {
	return strings.ReplaceAll(template, VersionPlaceholder, version)
}

// ArchivePath is where the downloaded archive for version is stored.
func ArchivePath(targetDir, name, version string) string {
	return filepath.Join(targetDir, fmt.Sprintf("%s-%s.zip", name, version))
}

// SourceDir is the extracted source tree for version.
func SourceDir(targetDir, name, version string) string {
	return filepath.Join(targetDir, fmt.Sprintf("%s-%s", name, version))
}

// Cleanup removes the extracted source tree for version.
func (w *Workspace) Cleanup(targetDir, name, version string) error {
	dir := SourceDir(targetDir, name, version)
	ok, err := afero.DirExists(w.fs, dir)
	if err != nil {
		return err
	}
	if !ok {
		return &os.PathError{Op: "cleanup", Path: dir, Err: os.ErrNotExist}
	}
	return w.fs.RemoveAll(dir)
}

// CopyDir recursively copies the directory from into to, creating to if
// needed. Existing files in to are overwritten.
func (w *Workspace) CopyDir(from, to string) error {
	info, err := w.fs.Stat(from)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", from, ErrNotDirectory)
	}

	if err := w.fs.MkdirAll(to, 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	entries, err := afero.ReadDir(w.fs, from)
	if err != nil {
		return fmt.Errorf("read source directory: %w", err)
	}

	for _, entry := range entries {
		src := filepath.Join(from, entry.Name())
		dst := filepath.Join(to, entry.Name())

		if entry.IsDir() {
			if err := w.CopyDir(src, dst); err != nil {
				return err
			}
			continue
		}
		if err := w.copyFile(src, dst, entry.Mode().Perm()); err != nil {
			return fmt.Errorf("copy file %s: %w", src, err)
		}
	}
	return nil
}

func (w *Workspace) copyFile(src, dst string, perm os.FileMode) error {
	in, err := w.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := w.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// EnsureExecutable sets mode 0755 on path.
func (w *Workspace) EnsureExecutable(path string) error {
	return w.fs.Chmod(path, 0o755)
}

// Exists reports whether path exists.
func (w *Workspace) Exists(path string) bool {
	ok, err := afero.Exists(w.fs, path)
	return err == nil && ok
}
