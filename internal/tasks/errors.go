package tasks

// ErrorCategory is the error taxonomy surfaced to users.
type ErrorCategory string

const (
	ErrFileNotFound     ErrorCategory = "file_not_found"
	ErrPermissionDenied ErrorCategory = "permission_denied"
	ErrJSONParse        ErrorCategory = "json_parse_error"
	ErrValidation       ErrorCategory = "validation_error"
	ErrUnknown          ErrorCategory = "unknown_error"
	ErrMCPServer        ErrorCategory = "mcp_server_error"
)

// Operation tags where an error happened.
type Operation string

const (
	OpStatusUpdate    Operation = "status_update"
	OpFileValidation  Operation = "file_validation"
	OpFileLoad        Operation = "file_load"
	OpPersistenceLoad Operation = "persistence_load"
	OpPersistenceSave Operation = "persistence_save"
	OpRemoteList      Operation = "remote_list"
	OpTaskLookup      Operation = "task_lookup"
	OpRefresh         Operation = "refresh"
	OpMockFallback    Operation = "mock_fallback"
)

// SuggestedAction is a machine readable hint for the consumer UI.
type SuggestedAction string

const (
	ActionRetry            SuggestedAction = "retry"
	ActionCreateFile       SuggestedAction = "create_file"
	ActionCheckPermissions SuggestedAction = "check_permissions"
	ActionFixJSON          SuggestedAction = "fix_json"
	ActionFixSchema        SuggestedAction = "fix_schema"
	ActionCheckServer      SuggestedAction = "check_server"
	ActionNone             SuggestedAction = "none"
)

// TaskErrorResponse is emitted on the error stream. It is never persisted.
type TaskErrorResponse struct {
	Operation        Operation       `json:"operation"`
	Category         ErrorCategory   `json:"category"`
	TaskID           string          `json:"taskId,omitempty"`
	SuggestedAction  SuggestedAction `json:"suggestedAction"`
	UserInstructions string          `json:"userInstructions"`
	TechnicalDetails string          `json:"technicalDetails"`
}
