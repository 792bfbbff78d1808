// Package afero wraps spf13/afero so agent code can run against the real
// filesystem in production and an in-memory one in tests.
package afero

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sgl-project/sft-agent/pkg/logging"
)

type File interface {
	afero.File
}

type Fs interface {
	afero.Fs
}

func Walk(fs Fs, root string, walkFn filepath.WalkFunc) error {
	return afero.Walk(fs, root, walkFn)
}

func WriteFile(fs Fs, filename string, data []byte, perm os.FileMode) error {
	return afero.WriteFile(fs, filename, data, perm)
}

func ReadFile(fs Fs, filename string) ([]byte, error) {
	return afero.ReadFile(fs, filename)
}

// Exists reports whether path names an existing file or directory.
func Exists(fs Fs, path string) (bool, error) {
	return afero.Exists(fs, path)
}

// IsRegularFile reports whether path exists and is not a directory.
// Stat errors other than "not exist" are returned.
func IsRegularFile(fs Fs, path string) (bool, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// AtomicFileUpdate replaces destDir/destFile with data through a temp file and
// rename. It is a no-op (besides chmod) when the content is unchanged.
func AtomicFileUpdate(
	fs Fs,
	destDir string,
	destFile string,
	data []byte,
	fileMode os.FileMode,
	log logging.Interface,
) error {
	destPath := filepath.Join(destDir, destFile)
	oldContents, err := afero.ReadFile(fs, destPath)
	if err == nil && bytes.Equal(oldContents, data) {
		return fs.Chmod(destPath, fileMode)
	}

	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", destDir, err)
	}

	log.WithField("destPath", destPath).Debug("Writing file...")

	// HACK: MemMapFs renames are unreliable; it only backs tests so write in place.
	if isMemFs(fs) {
		if err := afero.WriteFile(fs, destPath, data, fileMode); err != nil {
			return fmt.Errorf("error writing file %s: %v", destPath, err)
		}
		return nil
	}

	tmp, err := afero.TempFile(fs, destDir, "."+destFile+"~")
	if err != nil {
		return fmt.Errorf("creating tmp file for atomic write: %v", err)
	}
	defer func() { _ = tmp.Close() }()
	defer func() { _ = fs.Remove(tmp.Name()) }()

	if err := afero.WriteFile(fs, tmp.Name(), data, fileMode); err != nil {
		return fmt.Errorf("error writing into a temp file: %v", err)
	}
	if err := fs.Chmod(tmp.Name(), fileMode); err != nil {
		return fmt.Errorf("setting mode on temp file: %v", err)
	}
	return fs.Rename(tmp.Name(), destPath)
}

func isMemFs(fs Fs) bool {
	switch fs.(type) {
	case *MemMapFs, *afero.MemMapFs:
		return true
	default:
		return false
	}
}
