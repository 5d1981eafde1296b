// Package interp adapts objects living inside an embedded dynamic-language
// interpreter into capability implementations. Every interaction with the
// interpreter happens inside a Session, which holds the interpreter's single
// global lock until Release.
package interp

import (
	"context"
	"fmt"
	"strings"

	"ExtractBridge/pkg/bridge"
)

// Object is an opaque reference to an interpreter-side object.
type Object struct {
	ID string
}

// Interpreter is a hosted interpreter with one global lock.
type Interpreter interface {
	// Acquire blocks until the global lock is held or ctx is done.
	Acquire(ctx context.Context) (Session, error)
}

// Session is a held global lock. It must not be used after Release.
type Session interface {
	HasAttr(obj Object, name string) (bool, error)
	// Call invokes method on obj. A non-callable attribute is returned as
	// is when no arguments are given.
	Call(obj Object, method string, args ...any) (any, error)
	Release()
}

// Exception is an error raised by interpreter code.
type Exception struct {
	Type      string
	Message   string
	Traceback string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// IsValidationError reports whether the exception signals a semantic
// rejection rather than a plugin bug.
func (e *Exception) IsValidationError() bool {
	return e.Type == "ValueError" || strings.Contains(e.Type, "ValidationError")
}

// GlobalLock is a context-aware mutex usable as an interpreter's global lock.
type GlobalLock struct {
	ch chan struct{}
}

// NewGlobalLock returns an unlocked lock.
func NewGlobalLock() *GlobalLock {
	return &GlobalLock{ch: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held or ctx is done.
func (l *GlobalLock) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the lock.
func (l *GlobalLock) Unlock() {
	select {
	case <-l.ch:
	default:
		panic("interp: unlock of unlocked GlobalLock")
	}
}

type sessionMethods struct {
	s   Session
	obj Object
}

func (m sessionMethods) HasMethod(name string) (bool, error) { return m.s.HasAttr(m.obj, name) }

var _ bridge.MethodSet = sessionMethods{}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func toStrings(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, err := toString(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", v)
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}
