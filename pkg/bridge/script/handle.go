package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dop251/goja"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// handle is the state shared by every script adapter.
type handle struct {
	obj      *Value
	name     string
	version  string
	optional map[string]bool
	log      *slog.Logger
}

type objectMethods struct{ o *goja.Object }

func (m objectMethods) HasMethod(name string) (bool, error) { return !isNullish(m.o.Get(name)), nil }

// attrs reads object properties on the loop. Function properties are called
// with no arguments.
type attrs struct {
	o *goja.Object
}

func (a attrs) has(name string) bool { return !isNullish(a.o.Get(name)) }

func (a attrs) get(name string) (any, error) {
	prop := a.o.Get(name)
	if fn, ok := goja.AssertFunction(prop); ok {
		ret, err := fn(a.o)
		if err != nil {
			return nil, toError(err)
		}
		return export(ret), nil
	}
	return export(prop), nil
}

func (a attrs) optionalInt(name string, fallback int) int {
	if !a.has(name) {
		return fallback
	}
	raw, err := a.get(name)
	if err != nil {
		return fallback
	}
	n, ok := toInt(raw)
	if !ok {
		return fallback
	}
	return n
}

func (a attrs) optionalString(name string) (string, bool) {
	if !a.has(name) {
		return "", false
	}
	raw, err := a.get(name)
	if err != nil {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func (a attrs) strings(name string) ([]string, error) {
	raw, err := a.get(name)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailed, err, "read "+name)
	}
	switch list := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, xerrors.New(xerrors.CodeDeserialization, fmt.Sprintf("%s: expected strings, got %T", name, item))
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, xerrors.New(xerrors.CodeDeserialization, fmt.Sprintf("%s: expected array, got %T", name, raw))
}

func newHandle(ctx context.Context, obj *Value, kind string, required, optional []string, extra func(a attrs, h *handle) error) (*handle, error) {
	if obj == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "script value cannot be nil")
	}
	h := &handle{obj: obj, version: plugin.DefaultVersion, optional: make(map[string]bool)}
	err := obj.With(ctx, func(vm *goja.Runtime, val goja.Value) error {
		o := val.ToObject(vm)
		if err := bridge.RequireMethods(kind, objectMethods{o}, required...); err != nil {
			return err
		}
		a := attrs{o: o}
		raw, err := a.get("name")
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInitializationFailed, err, "read "+kind+" name")
		}
		name, ok := raw.(string)
		if !ok {
			return xerrors.New(xerrors.CodeDeserialization, fmt.Sprintf("%s name must be a string, got %T", kind, raw))
		}
		if err := plugin.ValidateName(name); err != nil {
			return err
		}
		h.name = name
		h.log = logger.Named("script").With(slog.String("plugin", name))
		if v, ok := a.optionalString("version"); ok && v != "" {
			h.version = v
		}
		for _, m := range append([]string{"initialize", "shutdown"}, optional...) {
			_, isFn := goja.AssertFunction(o.Get(m))
			h.optional[m] = isFn
		}
		if extra != nil {
			return extra(a, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *handle) Name() string              { return h.name }
func (h *handle) Version() string           { return h.version }
func (h *handle) Affinity() bridge.Affinity { return bridge.ThreadConfined }

// Initialize runs the object's initialize hook if it has one. A returned
// promise is awaited.
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

// call runs method through bridge.Call on the owning loop. []byte arguments
// become Uint8Arrays; everything else is passed as parsed JSON.
func (h *handle) call(ctx context.Context, method string, allowNull bool, encode func() ([]any, error)) (any, error) {
	if encode == nil {
		encode = func() ([]any, error) { return nil, nil }
	}
	return bridge.Call(ctx,
		bridge.CallSpec{Plugin: h.name, Method: method, Affinity: bridge.ThreadConfined, AllowNull: allowNull},
		encode,
		func(ctx context.Context, args []any) (any, error) {
			return invoke(ctx, h.obj, method, func(vm *goja.Runtime) ([]goja.Value, error) {
				return toValues(vm, args)
			})
		},
		func(raw any) (any, error) { return raw, nil })
}

func (h *handle) predicate(ctx context.Context, method string, arg func() ([]any, error)) bool {
	raw, err := h.call(ctx, method, false, arg)
	if err != nil {
		h.log.Warn("predicate failed, defaulting to true", slog.String("method", method), slog.Any("error", err))
		return true
	}
	b, ok := raw.(bool)
	if !ok {
		h.log.Warn("predicate returned non-bool, defaulting to true", slog.String("method", method))
		return true
	}
	return b
}

func toValues(vm *goja.Runtime, args []any) ([]goja.Value, error) {
	out := make([]goja.Value, len(args))
	parse, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	for i, arg := range args {
		switch v := arg.(type) {
		case nil:
			out[i] = goja.Null()
		case string, bool, int, int64, float64:
			out[i] = vm.ToValue(v)
		case []byte:
			arr, err := vm.New(vm.Get("Uint8Array"), vm.ToValue(vm.NewArrayBuffer(v)))
			if err != nil {
				return nil, toError(err)
			}
			out[i] = arr
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, xerrors.Wrap(xerrors.CodeEncoding, err, fmt.Sprintf("encode %T for script", v))
			}
			parsed, err := parse(goja.Undefined(), vm.ToValue(string(raw)))
			if err != nil {
				return nil, toError(err)
			}
			out[i] = parsed
		}
	}
	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
