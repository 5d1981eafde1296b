package plugin

import (
	"fmt"

	xerrors "ExtractBridge/internal/errors"
)

// Registration and lookup sentinels. They match with errors.Is by code, so
// any wrapped error carrying the same code compares equal.
var (
	ErrInvalidName          = xerrors.New(xerrors.CodeInvalidName, "")
	ErrAlreadyRegistered    = xerrors.New(xerrors.CodeAlreadyRegistered, "")
	ErrInitializationFailed = xerrors.New(xerrors.CodeInitializationFailed, "")
	ErrShutdownFailed       = xerrors.New(xerrors.CodeShutdownFailed, "")
	ErrNotFound             = xerrors.New(xerrors.CodeNotFound, "")
	ErrUnsupportedFormat    = xerrors.New(xerrors.CodeUnsupportedFormat, "")
	ErrValidationFailed     = xerrors.New(xerrors.CodeValidationFailed, "")
)

func wrapInvalidName(name, msg string) error {
	return xerrors.New(xerrors.CodeInvalidName, msg, xerrors.WithPlugin(name))
}

// ValidationFailure is a successful validator call that rejected the result.
// It is distinct from invocation errors, which signal a broken bridge.
type ValidationFailure struct {
	Validator string
	Message   string
	Err       error
}

func (v *ValidationFailure) Error() string {
	if v.Validator == "" {
		return "validation failed: " + v.Message
	}
	return fmt.Sprintf("validation failed in %s: %s", v.Validator, v.Message)
}

// Unwrap exposes ErrValidationFailed and the validator's own error.
func (v *ValidationFailure) Unwrap() []error {
	errs := []error{ErrValidationFailed}
	if v.Err != nil {
		errs = append(errs, v.Err)
	}
	return errs
}

// PluginError attaches the offending plugin to an error raised while the
// pipeline was running it.
type PluginError struct {
	Capability Capability
	Plugin     string
	Err        error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Capability, e.Plugin, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// isInvocationError reports whether err came from a malfunctioning bridge
// rather than from plugin logic.
func isInvocationError(err error) bool {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeMissingCapability, xerrors.CodeEncoding, xerrors.CodeDeserialization,
		xerrors.CodeForeignPanic, xerrors.CodeNullResult, xerrors.CodeBridgeClosed:
		return true
	}
	return false
}

func panicError(stage string, rec any) error {
	return xerrors.Wrap(xerrors.CodeForeignPanic, fmt.Errorf("%v", rec), stage+" panicked")
}
