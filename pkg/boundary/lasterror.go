package boundary

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/logger"
)

// The last-error slot is process-wide. Every exported boundary call clears it
// on entry and sets it on failure.
var lastError struct {
	sync.Mutex
	err error
}

// SetLastError records err. A nil err clears the slot.
func SetLastError(err error) {
	lastError.Lock()
	lastError.err = err
	lastError.Unlock()
}

// ClearLastError empties the slot.
func ClearLastError() { SetLastError(nil) }

// LastError returns the recorded message, or "" when the slot is empty.
func LastError() string {
	lastError.Lock()
	defer lastError.Unlock()
	if lastError.err == nil {
		return ""
	}
	return lastError.err.Error()
}

// LastErrorCode returns the stable numeric code of the recorded error, or 0.
func LastErrorCode() int32 {
	lastError.Lock()
	defer lastError.Unlock()
	if lastError.err == nil {
		return 0
	}
	return xerrors.NumericCodeOf(lastError.err)
}

// LastErrorCString returns a malloc'd copy of the last error for C callers,
// who free it with FreeString. NULL when the slot is empty.
func LastErrorCString() unsafe.Pointer {
	msg := LastError()
	if msg == "" {
		return nil
	}
	return CString(msg)
}

// Guard runs fn as the body of an exported call: it clears the last error,
// records a returned error, and turns a panic into FOREIGN_PANIC so it never
// unwinds into C.
func Guard(op string, fn func() error) (ok bool) {
	ClearLastError()
	defer func() {
		if rec := recover(); rec != nil {
			err := xerrors.New(xerrors.CodeForeignPanic, fmt.Sprintf("%s panicked: %v", op, rec))
			logger.Named("boundary").Error("boundary call panicked", slog.String("op", op), slog.Any("panic", rec))
			SetLastError(err)
			ok = false
		}
	}()
	if err := fn(); err != nil {
		logger.Named("boundary").Debug("boundary call failed", slog.String("op", op), slog.Any("error", err))
		SetLastError(err)
		return false
	}
	return true
}

// GuardPointer is Guard for calls that return an allocation. Failure yields
// nil.
func GuardPointer[T any](op string, fn func() (*T, error)) *T {
	var out *T
	if !Guard(op, func() error {
		var err error
		out, err = fn()
		return err
	}) {
		return nil
	}
	return out
}
