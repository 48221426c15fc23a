// Package errors provides the structured error system shared by the image-operation cache and the
// session scratch store: stable error codes, categories, and builder-style context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Image errors
	ErrCodeDecodeFailed    ErrorCode = "DECODE_FAILED"
	ErrCodeOutOfBounds     ErrorCode = "OUT_OF_BOUNDS"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// Computation errors
	ErrCodeCancelled     ErrorCode = "CANCELLED"
	ErrCodeInterrupted   ErrorCode = "INTERRUPTED"
	ErrCodeComputeFailed ErrorCode = "COMPUTE_FAILED"

	// Scratch storage errors
	ErrCodeSessionCreate    ErrorCode = "SESSION_CREATE"
	ErrCodeAllocationFailed ErrorCode = "ALLOCATION_FAILED"
	ErrCodePathInvalid      ErrorCode = "PATH_INVALID"
	ErrCodeSweepFailed      ErrorCode = "SWEEP_FAILED"
	ErrCodeReclaimFailed    ErrorCode = "RECLAIM_FAILED"

	// State errors
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryImage         ErrorCategory = "image"
	CategoryOperation     ErrorCategory = "operation"
	CategoryStorage       ErrorCategory = "storage"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:      CategoryConfiguration,
	ErrCodeConfigLoad:         CategoryConfiguration,
	ErrCodeDecodeFailed:       CategoryImage,
	ErrCodeOutOfBounds:        CategoryImage,
	ErrCodeInvalidArgument:    CategoryImage,
	ErrCodeCancelled:          CategoryOperation,
	ErrCodeInterrupted:        CategoryOperation,
	ErrCodeComputeFailed:      CategoryOperation,
	ErrCodeSessionCreate:      CategoryStorage,
	ErrCodeAllocationFailed:   CategoryStorage,
	ErrCodePathInvalid:        CategoryStorage,
	ErrCodeSweepFailed:        CategoryStorage,
	ErrCodeReclaimFailed:      CategoryStorage,
	ErrCodeShutdownInProgress: CategoryState,
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrDecode        = &Error{Code: ErrCodeDecodeFailed}
	ErrOutOfBounds   = &Error{Code: ErrCodeOutOfBounds}
	ErrInvalid       = &Error{Code: ErrCodeInvalidArgument}
	ErrCancelled     = &Error{Code: ErrCodeCancelled}
	ErrInterrupted   = &Error{Code: ErrCodeInterrupted}
	ErrComputeFailed = &Error{Code: ErrCodeComputeFailed}
	ErrPathInvalid   = &Error{Code: ErrCodePathInvalid}
	ErrReclaimFailed = &Error{Code: ErrCodeReclaimFailed}
	ErrShutdown      = &Error{Code: ErrCodeShutdownInProgress}
)

// Error represents a structured error with context and metadata.
type Error struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	if e.Component != "" {
		sb.WriteString("[")
		sb.WriteString(e.Component)
		if e.Operation != "" {
			sb.WriteString(":")
			sb.WriteString(e.Operation)
		}
		sb.WriteString("] ")
	}
	sb.WriteString(string(e.Code))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *Error) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default category and retry hint.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error with the given code and cause.
func Wrap(code ErrorCode, cause error, message string) *Error {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category of a code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault reports whether a code describes a transient condition.
// Compute failures are deliberately absent: the executor never retries them.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeReclaimFailed, ErrCodeAllocationFailed, ErrCodeInternalError:
		return true
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err carries a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithDetail adds detailed information to an error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace.
func (e *Error) WithStack() *Error {
	e.Stack = CaptureStack(2)
	return e
}
