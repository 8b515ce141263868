package taskfile

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Format identifies a task file format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return FormatMarkdown, true
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}

// readTaskFile validates and reads path: it must exist, be a regular file
// and be non-empty.
func readTaskFile(fsys FileSystem, path string) ([]byte, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, newFileError(path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, &FileError{Kind: KindUnavailable, Path: path, Reason: "not a regular file"}
	}
	if info.Size() == 0 {
		return nil, &FileError{Kind: KindUnavailable, Path: path, Reason: "file is empty"}
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, newFileError(path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &FileError{Kind: KindUnavailable, Path: path, Reason: "file is empty"}
	}
	return data, nil
}

// Load reads the task file at path with the parser matching its extension.
func Load(fsys FileSystem, path string, opts ParseOptions) ([]tasks.Task, error) {
	format, ok := DetectFormat(path)
	if !ok {
		return nil, &FileError{Kind: KindGeneric, Path: path, Reason: "unsupported extension", Err: ErrUnsupportedFormat}
	}
	switch format {
	case FormatMarkdown:
		return LoadMarkdownFile(fsys, path, opts)
	case FormatYAML:
		return LoadYAMLFile(fsys, path, opts)
	}
	return LoadJSONFile(fsys, path, opts)
}

// LoadMarkdownFile reads a checkbox Markdown task file.
func LoadMarkdownFile(fsys FileSystem, path string, opts ParseOptions) ([]tasks.Task, error) {
	data, err := readTaskFile(fsys, path)
	if err != nil {
		return nil, err
	}
	return ParseMarkdown(string(data), opts), nil
}

// LoadJSONFile reads a nested-context JSON task file.
func LoadJSONFile(fsys FileSystem, path string, opts ParseOptions) ([]tasks.Task, error) {
	data, err := readTaskFile(fsys, path)
	if err != nil {
		return nil, err
	}
	list, err := ParseJSON(data, opts)
	return list, withPath(err, path)
}

// LoadYAMLFile reads a nested-context YAML task file.
func LoadYAMLFile(fsys FileSystem, path string, opts ParseOptions) ([]tasks.Task, error) {
	data, err := readTaskFile(fsys, path)
	if err != nil {
		return nil, err
	}
	list, err := ParseYAML(data, opts)
	return list, withPath(err, path)
}

// Validate reads path and reports structural issues. Markdown files have no
// schema; an empty issue list is returned for them once readable.
func Validate(fsys FileSystem, path string) ([]Issue, error) {
	format, ok := DetectFormat(path)
	if !ok {
		return nil, &FileError{Kind: KindGeneric, Path: path, Reason: "unsupported extension", Err: ErrUnsupportedFormat}
	}
	data, err := readTaskFile(fsys, path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return ValidateDocument(data), nil
	case FormatYAML:
		doc, err := decodeYAMLDocument(data)
		if err != nil {
			return nil, withPath(err, path)
		}
		return validateDocument(doc), nil
	}
	return nil, nil
}

// UpdateStatus rewrites the status of one task in the file at path.
func UpdateStatus(fsys FileSystem, path, id string, status tasks.TaskStatus) error {
	format, ok := DetectFormat(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if format == FormatMarkdown {
		return UpdateTaskInFile(fsys, path, id, status)
	}

	data, err := readTaskFile(fsys, path)
	if err != nil {
		return err
	}
	var updated []byte
	if format == FormatYAML {
		updated, err = UpdateYAMLStatus(data, id, status)
	} else {
		updated, err = UpdateJSONStatus(data, id, status)
	}
	if err != nil {
		return withPath(err, path)
	}
	if err := fsys.WriteFile(path, updated); err != nil {
		return newFileError(path, err)
	}
	return nil
}

func withPath(err error, path string) error {
	switch e := err.(type) {
	case *ParseError:
		e.Path = path
	case *ValidationError:
		e.Path = path
	}
	return err
}
