// Package errors provides structured error types for the orchestrator.
// All errors carry a category, code, message, and retryable flag so callers
// can distinguish "retry after re-sync" (conflicts) from "fix the request"
// (validation, malformed input) from "not permitted" (policy) from "does
// not exist" (not found).
package errors

import (
	"errors"
	"fmt"

	"github.com/agentlegible/orchestrator/pkg/types"
)

// ErrorCategory classifies errors by failure kind.
type ErrorCategory string

const (
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryPolicy     ErrorCategory = "POLICY"
	ErrCategoryConflict   ErrorCategory = "CONFLICT"
	ErrCategoryMalformed  ErrorCategory = "MALFORMED"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Not-found codes
	CodeArtifactNotFound = "ARTIFACT_NOT_FOUND"
	CodeManifestNotFound = "MANIFEST_NOT_FOUND"
	CodeSchemaNotFound   = "SCHEMA_NOT_FOUND"
	CodeVersionNotFound  = "VERSION_NOT_FOUND"

	// Validation codes
	CodeSchemaValidationFailed = "SCHEMA_VALIDATION_FAILED"

	// Policy codes
	CodeTypeNotGoverned      = "TYPE_NOT_GOVERNED"
	CodeStateNotAllowed      = "STATE_NOT_ALLOWED"
	CodeTransitionNotAllowed = "TRANSITION_NOT_ALLOWED"
	CodeGateDenied           = "GATE_DENIED"
	CodeActorNotPermitted    = "ACTOR_NOT_PERMITTED"

	// Conflict codes
	CodeDuplicateArtifact = "DUPLICATE_ARTIFACT"
	CodeVersionMismatch   = "VERSION_MISMATCH"
	CodeDuplicateSnapshot = "DUPLICATE_SNAPSHOT"

	// Malformed codes
	CodeInvalidInput = "INVALID_INPUT"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the orchestrator.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: category == ErrCategoryConflict,
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	e := New(category, code, message)
	e.Cause = cause
	return e
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an orchestrator Error.
func GetCategory(err error) ErrorCategory {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// GetDetails extracts the details map from an error chain, or nil.
func GetDetails(err error) map[string]interface{} {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Details
	}
	return nil
}

// Convenience constructors for the taxonomy.

// NewNotFound reports a missing artifact, manifest, schema, or version.
func NewNotFound(code, message string) *Error {
	return New(ErrCategoryNotFound, code, message)
}

// NewValidationFailed reports failed structural schema validation and
// carries the full ordered issue list in Details.
func NewValidationFailed(message string, issues []types.ValidationIssue) *Error {
	return New(ErrCategoryValidation, CodeSchemaValidationFailed, message).
		WithDetails(map[string]interface{}{"errors": issues})
}

// NewPolicyViolation reports a denied lifecycle action; message names the
// rule that fired.
func NewPolicyViolation(code, message string) *Error {
	return New(ErrCategoryPolicy, code, message)
}

// NewConflict reports a unique-ID collision, a concurrent version mismatch,
// or an internal invariant breach.
func NewConflict(code, message string) *Error {
	return New(ErrCategoryConflict, code, message)
}

// NewMalformed reports caller input that fails basic structural checks.
func NewMalformed(message string) *Error {
	return New(ErrCategoryMalformed, CodeInvalidInput, message)
}

// NewInternal wraps an unexpected failure.
func NewInternal(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
