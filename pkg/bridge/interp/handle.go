package interp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// Option customizes an adapter.
type Option func(*handle)

// WithExecutor runs calls on e instead of bridge.DefaultExecutor().
func WithExecutor(e *bridge.Executor) Option {
	return func(h *handle) {
		if e != nil {
			h.exec = e
		}
	}
}

// handle is the state shared by every interpreter adapter: the object, its
// cached identity and which optional hooks it has.
type handle struct {
	interp   Interpreter
	obj      Object
	name     string
	version  string
	optional map[string]bool
	exec     *bridge.Executor
	log      *slog.Logger
}

// newHandle takes the global lock once, checks the required methods, reads
// name and version and probes the optional hooks. extra runs under the same
// lock for capability specific attributes.
func newHandle(ctx context.Context, in Interpreter, obj Object, kind string, required, optional []string,
	extra func(s Session, h *handle) error, opts []Option) (*handle, error) {
	if in == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "interpreter cannot be nil")
	}
	h := &handle{
		interp:   in,
		obj:      obj,
		version:  plugin.DefaultVersion,
		optional: make(map[string]bool),
		exec:     bridge.DefaultExecutor(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	s, err := in.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Release()

	if err := bridge.RequireMethods(kind, sessionMethods{s: s, obj: obj}, required...); err != nil {
		return nil, err
	}
	raw, err := s.Call(obj, "name")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailed, err, "read "+kind+" name")
	}
	if h.name, err = toString(raw); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDeserialization, err, "read "+kind+" name")
	}
	if err := plugin.ValidateName(h.name); err != nil {
		return nil, err
	}
	h.log = logger.Named("interp").With(slog.String("plugin", h.name))

	if ok, _ := s.HasAttr(obj, "version"); ok {
		if v, err := s.Call(obj, "version"); err == nil {
			if str, err := toString(v); err == nil && str != "" {
				h.version = str
			}
		}
	}
	for _, name := range append([]string{"initialize", "shutdown"}, optional...) {
		ok, err := s.HasAttr(obj, name)
		if err != nil {
			h.log.Debug("probe optional method failed", slog.String("method", name), slog.Any("error", err))
		}
		h.optional[name] = ok && err == nil
	}
	if extra != nil {
		if err := extra(s, h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *handle) Name() string              { return h.name }
func (h *handle) Version() string           { return h.version }
func (h *handle) Affinity() bridge.Affinity { return bridge.GlobalLockConfined }

// Initialize runs the object's initialize hook if it has one.
func (h *handle) Initialize() error { return h.lifecycle("initialize") }

// Shutdown runs the object's shutdown hook if it has one.
func (h *handle) Shutdown() error { return h.lifecycle("shutdown") }

func (h *handle) lifecycle(method string) error {
	if !h.optional[method] {
		return nil
	}
	_, err := h.call(context.Background(), method, true, nil)
	return err
}

// call invokes method through bridge.Call: args are built by encode, the
// call runs on the executor while holding the global lock.
func (h *handle) call(ctx context.Context, method string, allowNull bool, encode func() ([]any, error)) (any, error) {
	if encode == nil {
		encode = func() ([]any, error) { return nil, nil }
	}
	return bridge.Call(ctx,
		bridge.CallSpec{Plugin: h.name, Method: method, Affinity: bridge.GlobalLockConfined, Executor: h.exec, AllowNull: allowNull},
		encode,
		func(ctx context.Context, args []any) (any, error) {
			s, err := h.interp.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			defer s.Release()
			return s.Call(h.obj, method, args...)
		},
		func(raw any) (any, error) { return raw, nil })
}

// optionalInt reads an optional integer attribute, falling back on absence
// or error.
func optionalInt(s Session, h *handle, attr string, fallback int) int {
	if ok, err := s.HasAttr(h.obj, attr); err != nil || !ok {
		return fallback
	}
	raw, err := s.Call(h.obj, attr)
	if err != nil {
		h.log.Debug("optional attribute failed, using default", slog.String("attr", attr), slog.Any("error", err))
		return fallback
	}
	n, err := toInt(raw)
	if err != nil {
		return fallback
	}
	return n
}

func optionalString(s Session, h *handle, attr string) (string, bool) {
	if ok, err := s.HasAttr(h.obj, attr); err != nil || !ok {
		return "", false
	}
	raw, err := s.Call(h.obj, attr)
	if err != nil {
		h.log.Debug("optional attribute failed, using default", slog.String("attr", attr), slog.Any("error", err))
		return "", false
	}
	str, err := toString(raw)
	return str, err == nil
}

func requiredStrings(s Session, h *handle, attr string) ([]string, error) {
	raw, err := s.Call(h.obj, attr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailed, err, fmt.Sprintf("read %s.%s", h.name, attr))
	}
	list, err := toStrings(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDeserialization, err, fmt.Sprintf("read %s.%s", h.name, attr))
	}
	return list, nil
}

// asException extracts an interpreter exception from err.
func asException(err error) (*Exception, bool) {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}
