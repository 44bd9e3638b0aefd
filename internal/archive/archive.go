// Package archive extracts source archives whose contents live under a single
// top-level directory.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// Format is a supported archive container.
type Format string

const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
	Format7z    Format = "7z"
)

var (
	// ErrUnsupportedFormat is returned for unknown archive extensions.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrEmptyArchive is returned when the archive has no entries.
	ErrEmptyArchive = errors.New("archive is empty")

	// ErrUnsafePath is returned for entries that would escape the output
	// directory.
	ErrUnsafePath = errors.New("unsafe path in archive")
)

// ProgressFunc is called after each extracted entry. total is -1 for
// streaming formats where the count is not known up front.
type ProgressFunc func(done, total int)

// DetectFormat infers the format from the file name.
func DetectFormat(name string) (Format, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".7z"):
		return Format7z, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(name))
	}
}

// Extract unpacks archivePath into outputDir and deletes the archive on
// success. It returns the extracted top-level directory.
func Extract(archivePath, outputDir string) (string, error) {
	return ExtractWithProgress(archivePath, outputDir, nil)
}

// ExtractWithProgress is Extract with a per-entry callback.
//
// The top-level directory is taken from the first entry that is a directory
// or lives in one. Nested entries outside it are placed under it as well,
// while plain files at the archive root are written to outputDir. When the
// archive holds only such files, outputDir is returned. The archive is kept
// when extraction fails.
func ExtractWithProgress(archivePath, outputDir string, progressCb ProgressFunc) (string, error) {
	format, err := DetectFormat(archivePath)
	if err != nil {
		return "", err
	}

	x := &extractor{outputDir: outputDir, progress: progressCb}

	switch format {
	case FormatZip:
		err = x.zip(archivePath)
	case FormatTarGz:
		err = x.tarGz(archivePath)
	case Format7z:
		err = x.sevenZip(archivePath)
	}
	if err != nil {
		return "", err
	}
	if x.done == 0 {
		return "", ErrEmptyArchive
	}
	if x.root == "" {
		x.root = outputDir
	}

	if err := os.Remove(archivePath); err != nil {
		return x.root, fmt.Errorf("remove archive: %w", err)
	}
	return x.root, nil
}

// entry is one archive member in a format-independent shape.
type entry struct {
	name string
	mode fs.FileMode
	dir  bool
	open func() (io.ReadCloser, error)
}

type extractor struct {
	outputDir string
	progress  ProgressFunc

	topLevel string
	root     string
	done     int
}

func (x *extractor) zip(archivePath string) error {
	reader, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		reader.Close()
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("open zip archive: %w", err)
	}
	defer reader.Close()

	total := len(reader.File)
	for _, file := range reader.File {
		e := entry{
			name: file.Name,
			mode: file.Mode(),
			dir:  file.FileInfo().IsDir(),
			open: file.Open,
		}
		if err := x.extract(e, total); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) sevenZip(archivePath string) error {
	reader, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open 7z archive: %w", err)
	}
	defer reader.Close()

	total := len(reader.File)
	for _, file := range reader.File {
		info := file.FileInfo()
		e := entry{
			name: file.Name,
			mode: info.Mode(),
			dir:  info.IsDir(),
			open: file.Open,
		}
		if err := x.extract(e, total); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) tarGz(archivePath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir, tar.TypeReg:
		default:
			// Links and devices are not part of a source tree we build.
			continue
		}

		e := entry{
			name: header.Name,
			mode: fs.FileMode(header.Mode).Perm(),
			dir:  header.Typeflag == tar.TypeDir,
			open: func() (io.ReadCloser, error) {
				return io.NopCloser(tarReader), nil
			},
		}
		if err := x.extract(e, -1); err != nil {
			return err
		}
	}
}

func (x *extractor) extract(e entry, total int) error {
	name, err := cleanName(e.name)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}

	var dest string
	if !e.dir && !strings.Contains(name, "/") {
		// Files at the archive root sit beside the top-level directory.
		dest = filepath.Join(x.outputDir, name)
	} else {
		if x.topLevel == "" {
			x.topLevel = strings.SplitN(name, "/", 2)[0]
			x.root = filepath.Join(x.outputDir, x.topLevel)
			if err := os.MkdirAll(x.root, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", x.root, err)
			}
		}

		rel := name
		if rel == x.topLevel {
			rel = ""
		} else if strings.HasPrefix(rel, x.topLevel+"/") {
			rel = strings.TrimPrefix(rel, x.topLevel+"/")
		}
		dest = filepath.Join(x.root, filepath.FromSlash(rel))
	}

	if e.dir {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dest, err)
		}
	} else if err := writeFile(e, dest); err != nil {
		return err
	}

	x.done++
	if x.progress != nil {
		x.progress(x.done, total)
	}
	return nil
}

func writeFile(e entry, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	rc, err := e.open()
	if err != nil {
		return fmt.Errorf("open %s in archive: %w", e.name, err)
	}
	defer rc.Close()

	perm := e.mode.Perm()
	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", e.name, err)
	}
	return out.Close()
}

// cleanName normalizes an entry name to a slash-separated relative path and
// rejects names that are absolute or climb out of the output directory.
func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return cleaned, nil
}
