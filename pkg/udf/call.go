package udf

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrArgument reports arguments that cannot be passed to a function's
	// declared parameters.
	ErrArgument = errors.New("udf: argument mismatch")
	// ErrNoEval reports an object without an evaluation capability.
	ErrNoEval = errors.New("udf: no Eval method")
)

// PanicError is returned when a user function panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("udf: function panicked: %v", e.Value)
}

var (
	errorType      = reflect.TypeFor[error]()
	userParamsType = reflect.TypeFor[UserParams]()
)

// IsCallable reports whether v is a Go func or a Callable.
func IsCallable(v any) bool {
	if _, ok := v.(Callable); ok {
		return true
	}
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Func
}

// IsConstructor reports whether v is a func that takes no arguments and
// returns a value, optionally followed by an error.
func IsConstructor(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	if t.Kind() != reflect.Func || t.NumIn() != 0 {
		return false
	}
	switch t.NumOut() {
	case 1:
		return t.Out(0) != errorType
	case 2:
		return t.Out(0) != errorType && t.Out(1) == errorType
	}
	return false
}

// Call invokes fn, a Go func or a Callable, with args. Arguments are
// converted to the declared parameter types where a lossless conversion
// exists.
func Call(fn any, args ...any) (any, error) {
	if c, ok := fn.(Callable); ok {
		return c.Call(args...)
	}
	if !IsCallable(fn) {
		return nil, fmt.Errorf("%w: %T is not callable", ErrArgument, fn)
	}
	return callValue(reflect.ValueOf(fn), args)
}

// Wrap exposes a callable as a Function whose Eval delegates to it.
func Wrap(fn any) Function {
	return &callableWrapper{fn: fn}
}

type callableWrapper struct {
	fn any
}

func (w *callableWrapper) Eval(args ...any) (any, error) {
	return Call(w.fn, args...)
}

// Unwrap returns the callable behind a Function created by Wrap.
func Unwrap(f Function) (any, bool) {
	w, ok := f.(*callableWrapper)
	if !ok {
		return nil, false
	}
	return w.fn, true
}

// Bind returns the evaluation capability of obj: obj itself when it
// implements Function, otherwise its exported Eval method.
func Bind(obj any) (Function, error) {
	if f, ok := obj.(Function); ok {
		return f, nil
	}
	if obj == nil {
		return nil, ErrNoEval
	}
	m := reflect.ValueOf(obj).MethodByName("Eval")
	if !m.IsValid() {
		return nil, fmt.Errorf("%w on %T", ErrNoEval, obj)
	}
	return &methodFunction{method: m}, nil
}

type methodFunction struct {
	method reflect.Value
}

func (m *methodFunction) Eval(args ...any) (any, error) {
	return callValue(m.method, args)
}

// AcceptsUserParams reports whether target takes UserParams as its trailing
// argument. target may be a func, a ParamsAware value, a value wrapped by
// Wrap, or an object with an Eval method.
func AcceptsUserParams(target any) bool {
	if pa, ok := target.(ParamsAware); ok {
		return pa.AcceptsUserParams()
	}
	if f, ok := target.(Function); ok {
		if inner, ok := Unwrap(f); ok {
			return AcceptsUserParams(inner)
		}
		if m, ok := f.(*methodFunction); ok {
			return trailingUserParams(m.method.Type())
		}
	}
	if target == nil {
		return false
	}
	t := reflect.TypeOf(target)
	if t.Kind() == reflect.Func {
		return trailingUserParams(t)
	}
	if m, ok := t.MethodByName("Eval"); ok {
		// Method types carry the receiver as the first parameter.
		return trailingUserParams(m.Type)
	}
	return false
}

func trailingUserParams(t reflect.Type) bool {
	n := t.NumIn()
	if n == 0 || t.IsVariadic() {
		return false
	}
	return t.In(n-1) == userParamsType
}

func callValue(fv reflect.Value, args []any) (result any, err error) {
	ft := fv.Type()
	in, err := buildArgs(ft, args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r}
		}
	}()
	return collectResults(ft, fv.Call(in))
}

func buildArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	numIn := ft.NumIn()
	if ft.IsVariadic() {
		fixed := numIn - 1
		if len(args) < fixed {
			return nil, fmt.Errorf("%w: expects at least %d arguments, got %d", ErrArgument, fixed, len(args))
		}
		in := make([]reflect.Value, 0, len(args))
		for i, a := range args {
			pt := ft.In(fixed).Elem()
			if i < fixed {
				pt = ft.In(i)
			}
			v, err := convertArg(a, pt)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v)
		}
		return in, nil
	}

	if len(args) != numIn {
		return nil, fmt.Errorf("%w: expects %d arguments, got %d", ErrArgument, numIn, len(args))
	}
	in := make([]reflect.Value, numIn)
	for i, a := range args {
		v, err := convertArg(a, ft.In(i))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in[i] = v
	}
	return in, nil
}

func collectResults(ft reflect.Type, out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if ft.Out(0) == errorType {
			return nil, asError(out[0])
		}
		return valueOf(out[0]), nil
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("%w: second result must be error, got %s", ErrArgument, ft.Out(1))
		}
		if err := asError(out[1]); err != nil {
			return nil, err
		}
		return valueOf(out[0]), nil
	default:
		return nil, fmt.Errorf("%w: functions may return at most a value and an error, got %d results", ErrArgument, len(out))
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

func valueOf(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}
