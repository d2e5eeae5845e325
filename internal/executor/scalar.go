package executor

import (
	"context"

	"github.com/oriys/fnbridge/internal/convert"
	"github.com/oriys/fnbridge/internal/logging"
)

// ScalarFn evaluates a function once per call and returns its single result.
type ScalarFn struct {
	base
	resultType string
}

func NewScalarFn(opts ...Option) *ScalarFn {
	f := &ScalarFn{}
	f.setup(CapScalarEval, opts)
	return f
}

// Init resolves the function described by configJSON. Results are converted
// to resultType.
func (f *ScalarFn) Init(ctx context.Context, configJSON, resultType string) error {
	if err := f.init(ctx, configJSON, true); err != nil {
		return err
	}
	f.mu.Lock()
	f.resultType = resultType
	f.mu.Unlock()
	return nil
}

// Eval calls the function with args. A list is spread into positional
// arguments. A nil args returns nil without calling the function.
func (f *ScalarFn) Eval(ctx context.Context, args any) (any, error) {
	if args == nil {
		return nil, nil
	}
	res, err := f.resolved()
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	resultType := f.resultType
	f.mu.RUnlock()

	c := f.begin(ctx, "eval", res.Name)
	positional := spread(convert.ToNative(args))
	c.entry.Inputs = len(positional)

	out, err := invoke(res, positional)
	if err != nil {
		return nil, c.finish(err)
	}
	boundary, err := convert.ToBoundary(out, resultType)
	if err != nil {
		return nil, c.finish(err)
	}
	c.entry.Outputs = 1
	logging.OpContext(c.ctx).Debug("scalar eval", "function", res.Name, "args", describe(positional), "result", describe(boundary))
	return boundary, c.finish(nil)
}
