// Package taskfile reads and rewrites the configured task file.
//
// Three formats are understood: checkbox Markdown, nested-context JSON and
// the YAML rendition of the same nested-context shape. Parsing is lenient:
// malformed records degrade to defaults instead of failing the whole file.
package taskfile

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem is the managed filesystem the parsers read through.
// Implementations must return errors satisfying errors.Is(err, fs.ErrNotExist)
// and errors.Is(err, fs.ErrPermission) for the typed failure cases.
type FileSystem interface {
	Stat(path string) (fs.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	MkdirAll(path string) error
}

// OSFileSystem is the FileSystem backed by the local disk.
type OSFileSystem struct{}

func (OSFileSystem) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// WriteFile writes through a temp file and rename so readers never observe a
// partially written task file.
func (OSFileSystem) WriteFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (OSFileSystem) MkdirAll(path string) error { return os.MkdirAll(path, 0o755) }
