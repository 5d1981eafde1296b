// Package bridge holds the plumbing shared by every foreign-plugin adapter:
// thread-affinity tags, the blocking executor, the serialize/invoke/decode
// helper and the invocation error sentinels.
package bridge

import (
	"fmt"
	"sort"
	"strings"

	xerrors "ExtractBridge/internal/errors"
)

// Affinity classifies how a foreign handle may be invoked. Adapters carry the
// tag of the handle they wrap and never widen it.
type Affinity int

const (
	// Unconstrained handles are native callbacks callable from any goroutine.
	Unconstrained Affinity = iota
	// GlobalLockConfined handles must be called while holding the hosting
	// interpreter's single global lock.
	GlobalLockConfined
	// ThreadConfined handles may only be touched by the goroutine that owns
	// the hosting engine.
	ThreadConfined
)

func (a Affinity) String() string {
	switch a {
	case Unconstrained:
		return "unconstrained"
	case GlobalLockConfined:
		return "global-lock-confined"
	case ThreadConfined:
		return "thread-confined"
	}
	return fmt.Sprintf("affinity(%d)", int(a))
}

// Bridged is implemented by every adapter.
type Bridged interface {
	Affinity() Affinity
}

// Invocation error sentinels, matched with errors.Is by code.
var (
	ErrMissingCapability = xerrors.New(xerrors.CodeMissingCapability, "")
	ErrEncoding          = xerrors.New(xerrors.CodeEncoding, "")
	ErrDeserialization   = xerrors.New(xerrors.CodeDeserialization, "")
	ErrForeignPanic      = xerrors.New(xerrors.CodeForeignPanic, "")
	ErrNullResult        = xerrors.New(xerrors.CodeNullResult, "")
	ErrBridgeClosed      = xerrors.New(xerrors.CodeBridgeClosed, "")
)

// MethodSet reports whether a foreign object exposes a named method.
type MethodSet interface {
	HasMethod(name string) (bool, error)
}

// MissingMethodsError lists exactly the required methods a foreign object
// lacks.
type MissingMethodsError struct {
	Kind    string
	Missing []string
}

func (e *MissingMethodsError) Error() string {
	return fmt.Sprintf("%s is missing required methods: %s", e.Kind, strings.Join(e.Missing, ", "))
}

// Unwrap lets errors.Is match ErrMissingCapability.
func (e *MissingMethodsError) Unwrap() error { return ErrMissingCapability }

// RequireMethods checks obj for every name once, at adapter construction.
func RequireMethods(kind string, obj MethodSet, names ...string) error {
	var missing []string
	for _, name := range names {
		ok, err := obj.HasMethod(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeMissingCapability, err,
				fmt.Sprintf("inspect %s method %q", kind, name))
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingMethodsError{Kind: kind, Missing: missing}
}
