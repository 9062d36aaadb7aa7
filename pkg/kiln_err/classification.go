// pkg/kiln_err/classification.go
//
// Error classification with exit codes. Every failure in a run lands in one
// of three buckets: Fatal aborts the run, stage-local errors fail a single
// stage after retries, Advisory errors are logged and never touch the exit
// status.

package kiln_err

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors for appropriate handling
type ErrorCategory int

const (
	// CategorySystem - OS/filesystem issues (exit 1)
	CategorySystem ErrorCategory = iota
	// CategoryValidation - configuration/input validation failures (exit 2)
	CategoryValidation
	// CategoryNetwork - connectivity issues (exit 1)
	CategoryNetwork
	// CategoryUser - user cancelled/interrupted (exit 130)
	CategoryUser
	// CategoryInternal - bugs in kiln itself (exit 3)
	CategoryInternal
	// CategoryDependency - installer backend or missing tool (exit 1)
	CategoryDependency
	// CategoryPermission - privilege preconditions (exit 77)
	CategoryPermission
	// CategoryAdvisory - non-critical setting failed (never fails the run)
	CategoryAdvisory
)

func (c ErrorCategory) String() string {
	switch c {
	case CategorySystem:
		return "system"
	case CategoryValidation:
		return "validation"
	case CategoryNetwork:
		return "network"
	case CategoryUser:
		return "user"
	case CategoryInternal:
		return "internal"
	case CategoryDependency:
		return "dependency"
	case CategoryPermission:
		return "permission"
	case CategoryAdvisory:
		return "advisory"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with category and remediation info
type ClassifiedError struct {
	Category    ErrorCategory
	Message     string
	Cause       error
	Remediation []string
	// Fatal marks precondition failures that abort the whole run.
	Fatal bool
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)

	if e.Cause != nil && e.Cause.Error() != e.Message {
		sb.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Remediation) > 0 {
		sb.WriteString("\n\nHow to fix:")
		for i, step := range e.Remediation {
			sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, step))
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the appropriate exit code for this error category
func (e *ClassifiedError) ExitCode() int {
	switch e.Category {
	case CategoryUser:
		return 130
	case CategoryValidation:
		return 2
	case CategoryInternal:
		return 3
	case CategoryPermission:
		return 77 // EX_NOPERM
	case CategoryAdvisory:
		return 0
	default:
		return 1
	}
}

// GetExitCode extracts exit code from any error.
// Returns 0 for nil, a pinned ExitStatus code, the category code for classified errors, 1 for others.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var status *ExitStatus
	if errors.As(err, &status) {
		return status.Code
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.ExitCode()
	}

	return 1
}

// NewFatalError creates a precondition failure that aborts the run.
func NewFatalError(category ErrorCategory, message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    category,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
		Fatal:       true,
	}
}

// NewAdvisoryError creates a warning-grade failure.
func NewAdvisoryError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryAdvisory,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewValidationError creates an error for configuration validation failures
func NewValidationError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewDependencyError creates an error for installer/backend failures
func NewDependencyError(dependency, operation string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryDependency,
		Message:     fmt.Sprintf("%s: %s failed", dependency, operation),
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewNetworkError creates an error for network issues
func NewNetworkError(message string, cause error, remediation ...string) error {
	return &ClassifiedError{
		Category:    CategoryNetwork,
		Message:     message,
		Cause:       cause,
		Remediation: remediation,
	}
}

// NewUserCancelledError creates an error for operator-initiated cancellation
func NewUserCancelledError(operation string) error {
	return &ClassifiedError{
		Category:    CategoryUser,
		Message:     fmt.Sprintf("Operation cancelled by user: %s", operation),
		Remediation: []string{"Run kiln provision again; completed stages are skipped by their probes"},
	}
}

// IsAdvisory reports whether err is warning-grade.
func IsAdvisory(err error) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category == CategoryAdvisory
	}
	return false
}

// CategoryOf returns the category of a classified error, CategorySystem otherwise.
func CategoryOf(err error) ErrorCategory {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	return CategorySystem
}

// IsRetryable determines if an error represents a transient condition
// that might succeed on retry
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		switch classified.Category {
		case CategoryValidation, CategoryPermission, CategoryUser, CategoryInternal:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "executable file not found") ||
		strings.Contains(errStr, "permission denied") {
		return false
	}

	return true
}
