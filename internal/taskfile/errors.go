package taskfile

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

var (
	// ErrUnsupportedID is returned when a task id cannot be addressed by the
	// Markdown rewrite (only <major>.<minor>[.<patch>] ids can).
	ErrUnsupportedID = errors.New("task id cannot be updated in markdown")
	// ErrTaskNotFound is returned when no task matches the requested id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrUnsupportedFormat is returned for files whose extension has no parser.
	ErrUnsupportedFormat = errors.New("unsupported task file format")
)

// FileErrorKind distinguishes the user-facing categories of file failures.
type FileErrorKind string

const (
	KindNotFound         FileErrorKind = "not_found"
	KindPermissionDenied FileErrorKind = "permission_denied"
	KindUnavailable      FileErrorKind = "unavailable"
	KindGeneric          FileErrorKind = "generic"
)

// FileError reports why the task file could not be read.
type FileError struct {
	Kind   FileErrorKind
	Path   string
	Reason string
	Err    error
}

func (e *FileError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("task file not found: %s", e.Path)
	case KindPermissionDenied:
		return fmt.Sprintf("permission denied reading task file: %s", e.Path)
	case KindUnavailable:
		return fmt.Sprintf("task file unavailable: %s (%s)", e.Path, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("cannot load task file %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("cannot load task file %s: %s", e.Path, e.Reason)
}

func (e *FileError) Unwrap() error { return e.Err }

// newFileError classifies an I/O error on path.
func newFileError(path string, err error) *FileError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &FileError{Kind: KindNotFound, Path: path, Err: err}
	case errors.Is(err, fs.ErrPermission):
		return &FileError{Kind: KindPermissionDenied, Path: path, Err: err}
	}
	return &FileError{Kind: KindGeneric, Path: path, Err: err}
}

// ParseError wraps a syntax error of the underlying decoder.
type ParseError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("parse %s %s: %v", e.Format, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Issue is a single structural problem found in a task document.
type Issue struct {
	Context string `json:"context,omitempty"`
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Context != "" {
		b.WriteString(i.Context)
		if i.Index >= 0 {
			fmt.Fprintf(&b, "[%d]", i.Index)
		}
		if i.Field != "" {
			b.WriteString(".")
			b.WriteString(i.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// ValidationError reports structural schema violations.
type ValidationError struct {
	Path   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid task document"
	}
	msg := "invalid task document: " + e.Issues[0].String()
	if n := len(e.Issues) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}
