package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeDecodeFailed, "malformed header")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeDecodeFailed {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeDecodeFailed)
		}
		if err.Category != CategoryImage {
			t.Errorf("Category = %v, want %v", err.Category, CategoryImage)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeReclaimFailed, "busy").Retryable {
			t.Error("ReclaimFailed should be retryable by default")
		}
		if NewError(ErrCodeComputeFailed, "boom").Retryable {
			t.Error("ComputeFailed must not be retryable by default")
		}
		if NewError(ErrCodeOutOfBounds, "tile").Retryable {
			t.Error("OutOfBounds must not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeDecodeFailed, CategoryImage},
		{ErrCodeOutOfBounds, CategoryImage},
		{ErrCodeCancelled, CategoryOperation},
		{ErrCodeInterrupted, CategoryOperation},
		{ErrCodeComputeFailed, CategoryOperation},
		{ErrCodeSessionCreate, CategoryStorage},
		{ErrCodeReclaimFailed, CategoryStorage},
		{ErrCodeShutdownInProgress, CategoryState},
		{ErrCodeInternalError, CategoryInternal},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with component and operation",
			err:  &Error{Code: ErrCodeSessionCreate, Component: "session", Operation: "ensure", Message: "lock exists"},
			want: "[session:ensure] SESSION_CREATE: lock exists",
		},
		{
			name: "with component only",
			err:  &Error{Code: ErrCodeInvalidConfig, Component: "config", Message: "invalid value"},
			want: "[config] INVALID_CONFIG: invalid value",
		},
		{
			name: "with cause",
			err:  &Error{Code: ErrCodeComputeFailed, Message: "load a.png", Cause: fmt.Errorf("unexpected EOF")},
			want: "COMPUTE_FAILED: load a.png: unexpected EOF",
		},
		{
			name: "code only",
			err:  &Error{Code: ErrCodeCancelled},
			want: "CANCELLED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	decode := NewError(ErrCodeDecodeFailed, "bad png")
	compute := Wrap(ErrCodeComputeFailed, decode, "load")

	if !errors.Is(compute, ErrComputeFailed) {
		t.Error("compute failure should match ErrComputeFailed")
	}
	if !errors.Is(compute, ErrDecode) {
		t.Error("compute failure should expose its decode cause")
	}
	if errors.Is(compute, ErrCancelled) {
		t.Error("compute failure must not match ErrCancelled")
	}

	interrupted := Wrap(ErrCodeInterrupted, context.DeadlineExceeded, "wait")
	if !errors.Is(interrupted, context.DeadlineExceeded) {
		t.Error("interrupted should unwrap to the context error")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := CodeOf(fmt.Errorf("outer: %w", NewError(ErrCodeOutOfBounds, "x"))); got != ErrCodeOutOfBounds {
		t.Errorf("CodeOf = %q, want %q", got, ErrCodeOutOfBounds)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
	if !IsRetryable(NewError(ErrCodeReclaimFailed, "x")) {
		t.Error("reclaim failures are retryable")
	}
}

func TestError_Builders(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeAllocationFailed, "create file").
		WithComponent("session").
		WithOperation("create_file").
		WithDetail("prefix", "tile").
		WithStack()

	if err.Component != "session" || err.Operation != "create_file" {
		t.Errorf("builders not applied: %+v", err)
	}
	if err.Details["prefix"] != "tile" {
		t.Errorf("detail missing: %v", err.Details)
	}
	if err.Stack == "" {
		t.Error("stack not captured")
	}
	if !strings.Contains(err.String(), "Component=session") {
		t.Errorf("String() = %s", err.String())
	}

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jerr)
	}
	if decoded["code"] != string(ErrCodeAllocationFailed) {
		t.Errorf("json code = %v", decoded["code"])
	}
}
