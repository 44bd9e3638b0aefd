package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestNames(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"ArchiveURL",
			ArchiveURL("https://github.com/cmus/cmus/archive/refs/tags/{version}.zip", "v2.10.0"),
			"https://github.com/cmus/cmus/archive/refs/tags/v2.10.0.zip",
		},
		{"ArchiveURL without placeholder", ArchiveURL("https://example.com/a.zip", "v1"), "https://example.com/a.zip"},
		{"ArchivePath", ArchivePath("/tmp/build", "cmus", "v2.10.0"), filepath.Join("/tmp/build", "cmus-v2.10.0.zip")},
		{"SourceDir", SourceDir("/tmp/build", "cmus", "2.10.0"), filepath.Join("/tmp/build", "cmus-2.10.0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func writeTree(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, body := range files {
		if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := afero.WriteFile(fs, path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCopyDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/src/a.txt":         "a",
		"/src/sub/b.txt":     "b",
		"/src/sub/deep/c.go": "package c",
	})

	w := New(fs)
	if err := w.CopyDir("/src", "/dst"); err != nil {
		t.Fatalf("CopyDir() error = %v", err)
	}

	for path, want := range map[string]string{
		"/dst/a.txt":         "a",
		"/dst/sub/b.txt":     "b",
		"/dst/sub/deep/c.go": "package c",
	} {
		got, err := afero.ReadFile(fs, path)
		if err != nil {
			t.Errorf("ReadFile(%s) error = %v", path, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestCopyDir_OverwritesExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/src/a.txt": "new",
		"/dst/a.txt": "old content that is longer",
	})

	if err := New(fs).CopyDir("/src", "/dst"); err != nil {
		t.Fatalf("CopyDir() error = %v", err)
	}
	got, _ := afero.ReadFile(fs, "/dst/a.txt")
	if string(got) != "new" {
		t.Errorf("a.txt = %q, want new", got)
	}
}

func TestCopyDir_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"/file.txt": "x"})
	w := New(fs)

	if err := w.CopyDir("/file.txt", "/dst"); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("CopyDir(file) error = %v, want ErrNotDirectory", err)
	}
	if err := w.CopyDir("/missing", "/dst"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("CopyDir(missing) error = %v, want not exist", err)
	}
}

func TestCleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/build/cmus-2.10.0/configure": "#!/bin/sh",
		"/build/keep.txt":              "keep",
	})
	w := New(fs)

	if err := w.Cleanup("/build", "cmus", "2.10.0"); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if w.Exists("/build/cmus-2.10.0") {
		t.Error("source tree still exists after Cleanup")
	}
	if !w.Exists("/build/keep.txt") {
		t.Error("Cleanup removed unrelated files")
	}

	if err := w.Cleanup("/build", "cmus", "2.10.0"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("second Cleanup() error = %v, want not exist", err)
	}
}

func TestEnsureExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configure")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := New(nil).EnsureExecutable(path); err != nil {
		t.Fatalf("EnsureExecutable() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}

	if err := New(nil).EnsureExecutable(filepath.Join(dir, "missing")); err == nil {
		t.Error("EnsureExecutable(missing) error = nil")
	}
}
