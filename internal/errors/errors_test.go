package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CategoryRegistry, SeverityError, "crate not found")
	if got := err.Error(); got != "registry (error): crate not found" {
		t.Fatalf("unexpected error string: %s", got)
	}

	wrapped := Wrap(stderrors.New("boom"), CategoryIndex, SeverityFatal, "index sync failed")
	if !strings.Contains(wrapped.Error(), "boom") {
		t.Fatalf("expected cause in error string, got %s", wrapped.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(cause, CategoryFileSystem, SeverityError, "write artifact")
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find cause through Unwrap")
	}
}

func TestRetryableClassification(t *testing.T) {
	if IsRetryable(New(CategoryBuild, SeverityError, "nope")) {
		t.Fatalf("New should not be retryable")
	}
	if !IsRetryable(Retryable(CategoryNetwork, SeverityWarning, "transient")) {
		t.Fatalf("Retryable should be retryable")
	}
	if !IsRetryable(WrapRetryable(stderrors.New("reset"), CategoryNetwork, SeverityWarning, "transient")) {
		t.Fatalf("WrapRetryable should be retryable")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Fatalf("plain errors are never retryable")
	}
}

func TestCategoryHelpers(t *testing.T) {
	err := New(CategoryRustdoc, SeverityError, "rustdoc exited 101")
	if !IsCategory(err, CategoryRustdoc) {
		t.Fatalf("expected rustdoc category match")
	}
	if IsCategory(err, CategoryConfig) {
		t.Fatalf("unexpected config category match")
	}
	if got := GetCategory(stderrors.New("plain")); got != CategoryInternal {
		t.Fatalf("plain errors should default to internal, got %s", got)
	}
}

func TestWithContext(t *testing.T) {
	err := New(CategoryBuild, SeverityError, "stage failed").
		WithContext("crate", "serde").
		WithContext("stage", "doc")
	if err.Context["crate"] != "serde" || err.Context["stage"] != "doc" {
		t.Fatalf("context not recorded: %#v", err.Context)
	}
}
