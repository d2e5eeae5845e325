package executor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"

	"github.com/oriys/fnbridge/internal/convert"
	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/metrics"
	"github.com/oriys/fnbridge/internal/observability"
	"github.com/oriys/fnbridge/pkg/udf"
)

// TableFn evaluates a function that produces a sequence of rows and pushes
// each row to a collector in production order.
type TableFn struct {
	base
	collector   RowCollector
	resultTypes []string
}

func NewTableFn(opts ...Option) *TableFn {
	f := &TableFn{}
	f.setup(CapRowEval, opts)
	return f
}

// Init resolves the function described by configJSON. Rows are pushed to
// collector after conversion to resultTypes.
func (f *TableFn) Init(ctx context.Context, collector RowCollector, configJSON string, resultTypes []string) error {
	if collector == nil {
		return domain.ConfigurationError("row collector is required")
	}
	if err := f.init(ctx, configJSON, true); err != nil {
		return err
	}
	f.mu.Lock()
	f.collector = collector
	f.resultTypes = append([]string(nil), resultTypes...)
	f.mu.Unlock()
	return nil
}

// Eval calls the function with args and drains the returned sequence. A nil
// args has no effect.
func (f *TableFn) Eval(ctx context.Context, args any) error {
	if args == nil {
		return nil
	}
	res, err := f.resolved()
	if err != nil {
		return err
	}
	f.mu.RLock()
	collector, types := f.collector, f.resultTypes
	f.mu.RUnlock()

	c := f.begin(ctx, "eval", res.Name)
	positional := spread(convert.ToNative(args))
	c.entry.Inputs = len(positional)

	out, err := invoke(res, positional)
	if err != nil {
		return c.finish(err)
	}
	rows, err := Rows(out)
	if err != nil {
		return c.finish(domain.WrapConversion(err, "result of %s", res.Name))
	}

	n := 0
	for row, err := range rows {
		if err != nil {
			return c.finish(domain.WrapEvaluation(err, "produce row %d of %s", n, res.Name))
		}
		converted, err := convert.ToBoundaryRow(Tuple(row), types)
		if err != nil {
			return c.finish(domain.WrapConversion(err, "row %d", n))
		}
		if err := collector.Collect(converted); err != nil {
			return c.finish(fmt.Errorf("collect row %d: %w", n, err))
		}
		n++
		c.entry.Outputs = n
	}
	c.span.SetAttributes(observability.AttrRowCount.Int(n))
	metrics.Global().RecordRows(string(CapRowEval), n)
	logging.OpContext(c.ctx).Debug("rows produced", "function", res.Name, "rows", n)
	return c.finish(nil)
}

var errNotSequence = errors.New("not a row sequence")

// Rows exposes a function result as a sequence of rows. Accepted results
// are iter.Seq[T], iter.Seq2[T, error] for any T, udf.RowSource, receive
// channels, slices and arrays. nil is an empty sequence. The sequence may
// only be consumed once.
func Rows(v any) (iter.Seq2[any, error], error) {
	switch s := v.(type) {
	case nil:
		return func(func(any, error) bool) {}, nil
	case iter.Seq[any]:
		return withoutErrors(s), nil
	case func(func(any) bool):
		return withoutErrors(s), nil
	case iter.Seq2[any, error]:
		return s, nil
	case func(func(any, error) bool):
		return s, nil
	case udf.RowSource:
		return withoutErrors(s.Rows()), nil
	case string, []byte:
		return nil, errNotSequence
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan:
		if rv.Type().ChanDir()&reflect.RecvDir == 0 {
			return nil, errNotSequence
		}
		return func(yield func(any, error) bool) {
			for {
				x, ok := rv.Recv()
				if !ok || !yield(x.Interface(), nil) {
					return
				}
			}
		}, nil
	case reflect.Slice, reflect.Array:
		return func(yield func(any, error) bool) {
			for i := 0; i < rv.Len(); i++ {
				if !yield(rv.Index(i).Interface(), nil) {
					return
				}
			}
		}, nil
	case reflect.Func:
		return typedSeq(rv)
	}
	return nil, errNotSequence
}

var errorType = reflect.TypeFor[error]()

// typedSeq adapts func(func(T) bool) and func(func(T, error) bool).
func typedSeq(rv reflect.Value) (iter.Seq2[any, error], error) {
	if rv.IsNil() {
		return nil, errNotSequence
	}
	ft := rv.Type()
	if ft.NumIn() != 1 || ft.NumOut() != 0 {
		return nil, errNotSequence
	}
	yt := ft.In(0)
	if yt.Kind() != reflect.Func || yt.NumOut() != 1 || yt.Out(0).Kind() != reflect.Bool {
		return nil, errNotSequence
	}
	switch {
	case yt.NumIn() == 1:
	case yt.NumIn() == 2 && yt.In(1) == errorType:
	default:
		return nil, errNotSequence
	}

	return func(yield func(any, error) bool) {
		fn := reflect.MakeFunc(yt, func(in []reflect.Value) []reflect.Value {
			var err error
			if len(in) == 2 && !in[1].IsNil() {
				err = in[1].Interface().(error)
			}
			more := yield(boxed(in[0]), err)
			return []reflect.Value{reflect.ValueOf(more).Convert(yt.Out(0))}
		})
		rv.Call([]reflect.Value{fn})
	}, nil
}

func boxed(v reflect.Value) any {
	if v.Kind() == reflect.Interface && v.IsNil() {
		return nil
	}
	return v.Interface()
}

func withoutErrors(seq iter.Seq[any]) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Tuple returns row as a list of fields. A value that is not a list
// becomes a one-field row.
func Tuple(row any) []any {
	switch r := row.(type) {
	case []any:
		return r
	case string, []byte, nil:
		return []any{r}
	}
	rv := reflect.ValueOf(row)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{row}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
