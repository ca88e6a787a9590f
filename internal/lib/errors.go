package lib

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trobanga/geochain/internal/models"
)

// GeoError represents a user-friendly error with context and guidance
type GeoError struct {
	Category ErrorCategory
	Message  string   // Short description of what went wrong
	Cause    error    // Underlying error
	Guidance []string // What the user can do to fix it
	ExitCode int      // Exit status of a failed module invocation
	Output   string   // Captured stdout/stderr of a failed module invocation
}

// ErrorCategory classifies errors; the job controller derives the terminal state from it
type ErrorCategory string

const (
	CategoryLockConflict       ErrorCategory = "lock_conflict"
	CategoryProtectedWorkspace ErrorCategory = "protected_workspace"
	CategoryModuleExecution    ErrorCategory = "module_execution"
	CategoryExport             ErrorCategory = "export"
	CategoryTerminated         ErrorCategory = "terminated"
	CategoryStorageUnreachable ErrorCategory = "storage_unreachable"
	CategoryConfiguration      ErrorCategory = "configuration"
	CategoryValidation         ErrorCategory = "validation"
	CategoryFileSystem         ErrorCategory = "filesystem"
)

// Error implements the error interface
func (e *GeoError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] ", strings.ToUpper(string(e.Category))))
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if e.Category == CategoryModuleExecution {
		sb.WriteString(fmt.Sprintf(" (exit status %d)", e.ExitCode))
	}

	return sb.String()
}

// UserMessage returns a formatted message suitable for displaying to end users
func (e *GeoError) UserMessage() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if len(e.Guidance) > 0 {
		sb.WriteString("\nHow to fix:\n")
		for i, guide := range e.Guidance {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, guide))
		}
	}

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("\nTechnical details: %v\n", e.Cause))
	}

	if e.Output != "" {
		sb.WriteString("\nModule output:\n")
		sb.WriteString(e.Output)
		if !strings.HasSuffix(e.Output, "\n") {
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *GeoError) Unwrap() error {
	return e.Cause
}

// Workspace Errors

// ErrLockConflict creates an error for a workspace already locked by another job
func ErrLockConflict(ws models.WorkspaceID, holder string) *GeoError {
	return &GeoError{
		Category: CategoryLockConflict,
		Message:  fmt.Sprintf("Mapset <%s> in location <%s> is locked by job %s", ws.Mapset, ws.Location, holder),
		Guidance: []string{
			"Wait for the running job to finish and submit again",
			fmt.Sprintf("Check the holder with 'geochain lock status %s %s'", ws.Location, ws.Mapset),
		},
	}
}

// ErrProtectedWorkspace creates an error for a write attempt on a protected mapset
func ErrProtectedWorkspace(ws models.WorkspaceID) *GeoError {
	return &GeoError{
		Category: CategoryProtectedWorkspace,
		Message:  fmt.Sprintf("Mapset <%s> in location <%s> is protected and cannot be a processing target", ws.Mapset, ws.Location),
		Guidance: []string{
			"Reference its layers as name@" + ws.Mapset + " and write into another mapset",
			"Or omit the mapset to process in an ephemeral workspace only",
		},
	}
}

// Processing Errors

// ErrModuleExecution creates an error for a module invocation with non-zero exit status
func ErrModuleExecution(module string, exitCode int, output string, cause error) *GeoError {
	return &GeoError{
		Category: CategoryModuleExecution,
		Message:  fmt.Sprintf("Module <%s> failed", module),
		Cause:    cause,
		ExitCode: exitCode,
		Output:   output,
		Guidance: []string{
			"Inspect the module output below",
			"Check that all referenced layers exist and parameters are valid",
		},
	}
}

// ErrExport creates an error for a failed export, compression or store step
func ErrExport(layer string, cause error) *GeoError {
	return &GeoError{
		Category: CategoryExport,
		Message:  fmt.Sprintf("Export of <%s> failed", layer),
		Cause:    cause,
	}
}

// ErrTerminated creates the error raised when a termination request is observed
func ErrTerminated(stage string) *GeoError {
	return &GeoError{
		Category: CategoryTerminated,
		Message:  fmt.Sprintf("%s was terminated by user request", stage),
	}
}

// ErrStorageUnreachable creates an error for a storage destination that cannot be used
func ErrStorageUnreachable(backend string, destination string, cause error) *GeoError {
	return &GeoError{
		Category: CategoryStorageUnreachable,
		Message:  fmt.Sprintf("%s storage destination %s is not usable", backend, destination),
		Cause:    cause,
		Guidance: []string{
			"Check the storage section of the configuration",
			"Verify credentials and that the destination exists and is writable",
		},
	}
}

// Configuration Errors

// ErrInvalidConfig creates an error for configuration validation failures
func ErrInvalidConfig(reason string, cause error) *GeoError {
	return &GeoError{
		Category: CategoryConfiguration,
		Message:  fmt.Sprintf("Invalid configuration: %s", reason),
		Cause:    cause,
		Guidance: []string{
			"Check your geochain.yaml or GEOCHAIN_* environment variables",
		},
	}
}

// ErrInvalidChain creates an error for a process chain that violates the data contract
func ErrInvalidChain(cause error) *GeoError {
	return &GeoError{
		Category: CategoryValidation,
		Message:  "Invalid process chain",
		Cause:    cause,
	}
}

// Helper Functions

// WrapError wraps a standard error with GeoError context
func WrapError(category ErrorCategory, message string, cause error, guidance ...string) *GeoError {
	return &GeoError{
		Category: category,
		Message:  message,
		Cause:    cause,
		Guidance: guidance,
	}
}

// CategoryOf returns the category of the outermost GeoError in the chain, or "" if none
func CategoryOf(err error) ErrorCategory {
	var geoErr *GeoError
	if errors.As(err, &geoErr) {
		return geoErr.Category
	}
	return ""
}

// IsCategory reports whether any GeoError in the chain has the given category
func IsCategory(err error, category ErrorCategory) bool {
	for err != nil {
		var geoErr *GeoError
		if !errors.As(err, &geoErr) {
			return false
		}
		if geoErr.Category == category {
			return true
		}
		err = geoErr.Cause
	}
	return false
}
