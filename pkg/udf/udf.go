// Package udf is the surface user code links against to expose functions to fnbridge.
//
// A Go plugin or a host binary registers its functions and constructors by
// fully qualified name from an init function:
//
//	func init() {
//		udf.Register("mathx.Plus", NewPlus) // constructor, instantiated on resolve
//		udf.Register("mathx.scale", Scale)  // func(*frame.Frame, udf.UserParams) *frame.Frame
//	}
//
// Resolved objects expose a single evaluation capability, either by
// implementing Function or by declaring an exported Eval method with any
// signature. Scalar and row functions are resolved with callable wrapping,
// so they must be objects or constructors; a bare func taking arguments is
// only usable by the dataframe adapter, which resolves without wrapping.
package udf

import (
	"iter"
)

// Function is the evaluation capability of a resolved object.
type Function interface {
	Eval(args ...any) (any, error)
}

// Callable is implemented by values that behave like bare functions without
// being Go funcs, such as shell functions loaded from a script module.
type Callable interface {
	Call(args ...any) (any, error)
}

// UserParams carries the user-supplied named parameters of a batch call.
// A function receives them only when its last parameter has this type.
type UserParams map[string]any

// ParamsAware lets an object declare whether its Eval accepts UserParams as
// the trailing argument. It takes precedence over signature inspection.
type ParamsAware interface {
	AcceptsUserParams() bool
}

// RowSource is a lazily produced sequence of rows.
type RowSource interface {
	Rows() iter.Seq[any]
}

// Func adapts an ordinary variadic function to Function.
type Func func(args ...any) (any, error)

func (f Func) Eval(args ...any) (any, error) { return f(args...) }
