package duplex

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeBackend    ErrorType = "backend"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes
const (
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeMissingID         = "MISSING_ID"
	ErrCodeInvalidCriteria   = "INVALID_CRITERIA"
	ErrCodeUnknownEntity     = "UNKNOWN_ENTITY"
	ErrCodeInvalidMode       = "INVALID_RESTORE_MODE"
	ErrCodeInvalidSnapshot   = "INVALID_SNAPSHOT"
	ErrCodeRecordNotFound    = "RECORD_NOT_FOUND"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeBackendFailure    = "BACKEND_FAILURE"
	ErrCodeIndexMissing      = "INDEX_MISSING"
	ErrCodeBatchSizeExceeded = "BATCH_SIZE_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// ErrIndexMissing is returned (wrapped) by a Cache backend asked to range-query
// a field that has no sorted index.
var ErrIndexMissing = errors.New("sorted index missing")

// Error is the single structured error type surfaced by the mirror layer.
type Error struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Entity  string         `json:"entity,omitempty"`
	ID      string         `json:"id,omitempty"`
	Backend BackendRole    `json:"backend,omitempty"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s:%s]", e.Type, e.Code)
	if e.Backend != "" {
		prefix += " " + string(e.Backend)
	}
	msg := e.Message
	switch {
	case e.Entity != "" && e.ID != "":
		msg = fmt.Sprintf("%s/%s: %s", e.Entity, e.ID, msg)
	case e.Entity != "":
		msg = fmt.Sprintf("%s: %s", e.Entity, msg)
	case e.Field != "":
		msg = fmt.Sprintf("field '%s': %s", e.Field, msg)
	}
	if e.Cause != nil {
		return prefix + " " + msg + ": " + e.Cause.Error()
	}
	return prefix + " " + msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause adds a cause to the error
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithEntity adds entity context to the error
func (e *Error) WithEntity(entity, id string) *Error {
	e.Entity = entity
	e.ID = id
	return e
}

// WithBackend records which store produced the error
func (e *Error) WithBackend(role BackendRole) *Error {
	e.Backend = role
	return e
}

// WithDetail adds a single detail to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewError creates a new Error
func NewError(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a validation error
func NewValidationError(field, message string) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
	}
}

// NewNotFoundError creates a not found error for one record
func NewNotFoundError(entity, id string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeRecordNotFound,
		Message: "record not found",
		Entity:  entity,
		ID:      id,
	}
}

// NewPermissionError creates a permission error raised by a backend
func NewPermissionError(role BackendRole, cause error) *Error {
	return &Error{
		Type:    ErrorTypePermission,
		Code:    ErrCodePermissionDenied,
		Message: "access denied by backend",
		Backend: role,
		Cause:   cause,
	}
}

// NewRateLimitError creates a rate limit error raised by a backend
func NewRateLimitError(role BackendRole, cause error) *Error {
	return &Error{
		Type:    ErrorTypeRateLimit,
		Code:    ErrCodeRateLimited,
		Message: "backend request rate exhausted",
		Backend: role,
		Cause:   cause,
	}
}

// NewBackendError wraps any other adapter failure
func NewBackendError(role BackendRole, message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeBackend,
		Code:    ErrCodeBackendFailure,
		Message: message,
		Backend: role,
		Cause:   cause,
	}
}

// NewBatchSizeExceededError creates a batch size exceeded error
func NewBatchSizeExceededError(size, maxSize int) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeBatchSizeExceeded,
		Message: fmt.Sprintf("batch size %d exceeds maximum allowed size %d", size, maxSize),
		Details: map[string]any{
			"size":     size,
			"max_size": maxSize,
		},
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

func errorType(err error) (ErrorType, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return "", false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeValidation
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeNotFound
}

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypePermission
}

// IsRateLimit reports whether err is a rate limit error.
func IsRateLimit(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrorTypeRateLimit
}

// IsBackend reports whether err came from a backend, including permission and
// rate limit failures.
func IsBackend(err error) bool {
	t, ok := errorType(err)
	return ok && (t == ErrorTypeBackend || t == ErrorTypePermission || t == ErrorTypeRateLimit)
}

// BackendOf returns the backend role attached to err, if any.
func BackendOf(err error) BackendRole {
	var e *Error
	if errors.As(err, &e) {
		return e.Backend
	}
	return ""
}
