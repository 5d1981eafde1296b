package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeNotFound, "plugin not found")
	err := fmt.Errorf("lookup: %w", Wrap(CodeNotFound, stdErrors.New("missing"), "extractor pdf"))

	if !stdErrors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match by code, got %v", err)
	}
	if stdErrors.Is(err, New(CodeInvalidName, "")) {
		t.Fatalf("different codes must not match")
	}
}

func TestCodeOfAndNumeric(t *testing.T) {
	err := Wrap(CodeForeignPanic, stdErrors.New("boom"), "", WithPlugin("ocr-js"))
	if got := CodeOf(err); got != CodeForeignPanic {
		t.Fatalf("CodeOf = %s", got)
	}
	if got := NumericCodeOf(err); got != 12 {
		t.Fatalf("NumericCodeOf = %d", got)
	}
	if NumericCodeOf(nil) != 0 {
		t.Fatalf("nil error must map to 0")
	}
	if got := CodeOf(stdErrors.New("plain")); got != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN, got %s", got)
	}
	if md := err.Metadata(); md["plugin"] != "ocr-js" {
		t.Fatalf("plugin metadata missing: %v", md)
	}
}

func TestDefaultMessageAndSeverity(t *testing.T) {
	err := New(CodeValidationFailed, "")
	if err.Message() != "validation failed" {
		t.Fatalf("unexpected default message %q", err.Message())
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if SeverityOf(New(CodeShutdownFailed, "", WithSeverity(SeverityCritical))) != SeverityCritical {
		t.Fatalf("severity override ignored")
	}
	if !RetryableError(New(CodeInitializationFailed, "")) {
		t.Fatalf("initialization failures are retryable")
	}
}
