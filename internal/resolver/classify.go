package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/dohr-michael/taskscope/internal/remote"
	"github.com/dohr-michael/taskscope/internal/taskfile"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Classify maps an error onto the user-facing taxonomy. Typed errors are
// checked first; message matching is the last resort.
func Classify(err error) tasks.ErrorCategory {
	if err == nil {
		return tasks.ErrUnknown
	}

	var (
		serverErr  *remote.ServerError
		fileErr    *taskfile.FileError
		syntaxErr  *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
		parseErr   *taskfile.ParseError
		invalidErr *taskfile.ValidationError
	)
	switch {
	case errors.As(err, &serverErr):
		return tasks.ErrMCPServer
	case errors.As(err, &invalidErr):
		return tasks.ErrValidation
	case errors.As(err, &parseErr), errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return tasks.ErrJSONParse
	case errors.As(err, &fileErr):
		switch fileErr.Kind {
		case taskfile.KindNotFound:
			return tasks.ErrFileNotFound
		case taskfile.KindPermissionDenied:
			return tasks.ErrPermissionDenied
		case taskfile.KindUnavailable:
			return tasks.ErrValidation
		}
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return tasks.ErrFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return tasks.ErrPermissionDenied
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "ENOENT"), strings.Contains(msg, "no such file"):
		return tasks.ErrFileNotFound
	case strings.Contains(msg, "EACCES"), strings.Contains(msg, "permission denied"):
		return tasks.ErrPermissionDenied
	case strings.Contains(msg, "JSON"), strings.Contains(msg, "SyntaxError"):
		return tasks.ErrJSONParse
	}
	return tasks.ErrUnknown
}

// suggestedActions pairs every category with its remediation hint.
var suggestedActions = map[tasks.ErrorCategory]tasks.SuggestedAction{
	tasks.ErrFileNotFound:     tasks.ActionCreateFile,
	tasks.ErrPermissionDenied: tasks.ActionCheckPermissions,
	tasks.ErrJSONParse:        tasks.ActionFixJSON,
	tasks.ErrValidation:       tasks.ActionFixSchema,
	tasks.ErrMCPServer:        tasks.ActionCheckServer,
	tasks.ErrUnknown:          tasks.ActionRetry,
}

func instructions(category tasks.ErrorCategory, path string) string {
	if path == "" {
		path = "the task file"
	}
	switch category {
	case tasks.ErrFileNotFound:
		return fmt.Sprintf(`Task file not found: %s

To fix this:
1. Create a tasks.json or tasks.md file in the workspace root
2. Or point "tasks.file" in .aidm/config.jsonc at an existing file
3. Run "taskscope init" to scaffold an example file`, path)
	case tasks.ErrPermissionDenied:
		return fmt.Sprintf(`Permission denied reading %s

To fix this:
1. Check the file permissions (it must be readable by your user)
2. Check the permissions of the containing directories`, path)
	case tasks.ErrJSONParse:
		return fmt.Sprintf(`%s is not valid JSON

To fix this:
1. Look for trailing commas, missing quotes or unbalanced brackets
2. Run "taskscope validate" to locate the problem`, path)
	case tasks.ErrValidation:
		return fmt.Sprintf(`%s does not have the expected structure

Expected layout:
{
  "<context>": {
    "tasks": [{"id": "1.1", "title": "...", "status": "not_started"}]
  }
}
Every task needs an id, a title and a status.`, path)
	case tasks.ErrMCPServer:
		return `The task server reported an error.

To fix this:
1. Check the task server logs
2. Make sure the requested task exists on the server`
	}
	return `An unexpected error occurred.

To fix this:
1. Retry the operation
2. Run with --debug for more details`
}

// NewErrorResponse builds the error record emitted for err.
func NewErrorResponse(op tasks.Operation, err error, taskID string) tasks.TaskErrorResponse {
	category := Classify(err)
	return tasks.TaskErrorResponse{
		Operation:        op,
		Category:         category,
		TaskID:           taskID,
		SuggestedAction:  suggestedActions[category],
		UserInstructions: instructions(category, ""),
		TechnicalDetails: errorDetails(err),
	}
}

// HandleFileLoadingError classifies a task file failure and attaches the
// remediation text for path.
func HandleFileLoadingError(err error, path string) tasks.TaskErrorResponse {
	category := Classify(err)
	op := tasks.OpFileLoad
	if category == tasks.ErrValidation {
		op = tasks.OpFileValidation
	}
	return tasks.TaskErrorResponse{
		Operation:        op,
		Category:         category,
		SuggestedAction:  suggestedActions[category],
		UserInstructions: instructions(category, path),
		TechnicalDetails: errorDetails(err),
	}
}

func errorDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
