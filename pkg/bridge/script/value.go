package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	xerrors "ExtractBridge/internal/errors"
)

// noCopy makes go vet's copylocks check flag copies of Value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Value is a script value pinned to the loop that created it. The underlying
// goja value is only reachable from closures running on that loop.
type Value struct {
	noCopy noCopy
	loop   *Loop
	v      goja.Value
}

// Loop returns the owning loop.
func (v *Value) Loop() *Loop { return v.loop }

// With runs fn on the owning loop with the underlying value.
func (v *Value) With(ctx context.Context, fn func(vm *goja.Runtime, val goja.Value) error) error {
	return v.loop.Do(ctx, func(vm *goja.Runtime) error { return fn(vm, v.v) })
}

// Exception is an error thrown, or a promise rejected, by script code.
type Exception struct {
	Name    string
	Message string
	Stack   string
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// IsValidationError reports whether the thrown error is a ValidationError or
// a subclass named like one.
func (e *Exception) IsValidationError() bool {
	return strings.Contains(e.Name, "ValidationError")
}

// LoadScript evaluates src on loop and returns the global named exportName.
// A constructor is instantiated with ctorArgs.
func LoadScript(ctx context.Context, loop *Loop, src, exportName string, ctorArgs ...any) (*Value, error) {
	if exportName == "" {
		exportName = "plugin"
	}
	out := &Value{loop: loop}
	err := loop.Do(ctx, func(vm *goja.Runtime) error {
		if _, err := vm.RunString(src); err != nil {
			return toError(err)
		}
		val := vm.Get(exportName)
		if isNullish(val) {
			return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("script does not define %q", exportName))
		}
		if ctor, ok := goja.AssertConstructor(val); ok {
			argv := make([]goja.Value, len(ctorArgs))
			for i, a := range ctorArgs {
				argv[i] = vm.ToValue(a)
			}
			obj, err := ctor(nil, argv...)
			if err != nil {
				return toError(err)
			}
			out.v = obj
			return nil
		}
		if _, ok := val.(*goja.Object); !ok {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%q is not an object", exportName))
		}
		out.v = val
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type settlement struct {
	value any
	err   error
}

// invoke calls method on obj with args built on the loop. A non-function
// property is returned as is. A returned promise is awaited off the loop so
// timers and other callers keep running while it is pending.
func invoke(ctx context.Context, obj *Value, method string, args func(vm *goja.Runtime) ([]goja.Value, error)) (any, error) {
	var (
		immediate any
		pending   chan settlement
	)
	err := obj.With(ctx, func(vm *goja.Runtime, val goja.Value) error {
		o := val.ToObject(vm)
		prop := o.Get(method)
		if isNullish(prop) {
			return xerrors.New(xerrors.CodeMissingCapability, fmt.Sprintf("script object has no %s", method))
		}
		fn, ok := goja.AssertFunction(prop)
		if !ok {
			immediate = export(prop)
			return nil
		}
		var argv []goja.Value
		if args != nil {
			var err error
			if argv, err = args(vm); err != nil {
				return err
			}
		}
		ret, err := fn(o, argv...)
		if err != nil {
			return toError(err)
		}
		p, ok := ret.Export().(*goja.Promise)
		if !ok {
			immediate = export(ret)
			return nil
		}
		switch p.State() {
		case goja.PromiseStateFulfilled:
			immediate = export(p.Result())
			return nil
		case goja.PromiseStateRejected:
			return describe(p.Result())
		}
		pending = make(chan settlement, 1)
		then, _ := goja.AssertFunction(ret.ToObject(vm).Get("then"))
		_, err = then(ret,
			vm.ToValue(func(call goja.FunctionCall) goja.Value {
				pending <- settlement{value: export(call.Argument(0))}
				return goja.Undefined()
			}),
			vm.ToValue(func(call goja.FunctionCall) goja.Value {
				pending <- settlement{err: describe(call.Argument(0))}
				return goja.Undefined()
			}))
		return err
	})
	if err != nil || pending == nil {
		return immediate, err
	}
	select {
	case s := <-pending:
		return s.value, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-obj.loop.done:
		return nil, ErrLoopClosed
	}
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func export(v goja.Value) any {
	if isNullish(v) {
		return nil
	}
	return v.Export()
}

// toError converts a goja error into an *Exception when script code threw.
func toError(err error) error {
	if exc, ok := err.(*goja.Exception); ok {
		e := describe(exc.Value())
		e.Stack = exc.String()
		return e
	}
	return unwrapInterrupt(err)
}

func describe(v goja.Value) *Exception {
	if isNullish(v) {
		return &Exception{Name: "Error"}
	}
	if obj, ok := v.(*goja.Object); ok {
		e := &Exception{Name: "Error", Message: v.String()}
		if name := obj.Get("name"); !isNullish(name) {
			e.Name = name.String()
		}
		if msg := obj.Get("message"); !isNullish(msg) {
			e.Message = msg.String()
		}
		if stack := obj.Get("stack"); !isNullish(stack) {
			e.Stack = stack.String()
		}
		return e
	}
	return &Exception{Name: "Error", Message: v.String()}
}
