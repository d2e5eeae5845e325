// Package executor holds the invocation adapters through which a host calls
// a resolved user function: ScalarFn returns one value per call, TableFn
// pushes zero or more rows to a collector and DataFrameFn runs a batch
// function over tabular inputs and pushes every output frame.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/metrics"
	"github.com/oriys/fnbridge/internal/observability"
	"github.com/oriys/fnbridge/internal/resolver"
	"github.com/oriys/fnbridge/pkg/udf"
)

// Capability names the call shape an adapter implements.
type Capability string

const (
	CapScalarEval    Capability = "scalar-eval"
	CapRowEval       Capability = "row-eval"
	CapDataFrameCalc Capability = "dataframe-calc"
)

// Adapter is implemented by every invocation adapter.
type Adapter interface {
	Capability() Capability
	Resolved() *resolver.Resolved
}

// RowCollector receives the rows produced by a TableFn call.
type RowCollector interface {
	Collect(row []any) error
}

// RowCollectorFunc adapts a function to RowCollector.
type RowCollectorFunc func(row []any) error

func (f RowCollectorFunc) Collect(row []any) error { return f(row) }

// FrameCollector receives each output frame of a DataFrameFn call as
// headerless CSV and its schema string.
type FrameCollector interface {
	CollectDataFrameFileName(content, schema string) error
}

// FrameCollectorFunc adapts a function to FrameCollector.
type FrameCollectorFunc func(content, schema string) error

func (f FrameCollectorFunc) CollectDataFrameFileName(content, schema string) error {
	return f(content, schema)
}

// ErrNotInitialized is returned by calls made before Init succeeded.
var ErrNotInitialized = domain.ConfigurationError("adapter not initialized")

type Option func(*options)

type options struct {
	logger      *logging.Logger
	resolveOpts []resolver.Option
	handle      string
}

// WithLogger sends invocation records to logger instead of the default.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithResolverOptions passes opts to the resolver built by Init.
func WithResolverOptions(opts ...resolver.Option) Option {
	return func(o *options) { o.resolveOpts = append(o.resolveOpts, opts...) }
}

// WithHandle tags invocation records with the id the adapter is served
// under.
func WithHandle(id string) Option {
	return func(o *options) { o.handle = id }
}

// base holds what all adapters share: the resolved function and the
// invocation bookkeeping.
type base struct {
	opts options
	kind Capability

	mu  sync.RWMutex
	res *resolver.Resolved
}

func (b *base) setup(kind Capability, opts []Option) {
	b.kind = kind
	for _, opt := range opts {
		opt(&b.opts)
	}
	if b.opts.logger == nil {
		b.opts.logger = logging.Default()
	}
}

func (b *base) Capability() Capability { return b.kind }

// Resolved returns the function resolved by Init, or nil.
func (b *base) Resolved() *resolver.Resolved {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.res
}

func (b *base) init(ctx context.Context, configJSON string, wrapCallable bool) error {
	cfg, err := domain.ParseUDFConfig([]byte(configJSON))
	if err != nil {
		return err
	}
	cfg.WrapCallable = wrapCallable
	res, err := resolver.New(cfg, b.opts.resolveOpts...).Resolve(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.res = res
	b.mu.Unlock()
	logging.OpContext(ctx).Info("adapter initialized", "kind", b.kind, "function", res.Name, "handle", b.opts.handle)
	return nil
}

func (b *base) resolved() (*resolver.Resolved, error) {
	res := b.Resolved()
	if res == nil {
		return nil, ErrNotInitialized
	}
	return res, nil
}

// call is one invocation in flight.
type call struct {
	b     *base
	ctx   context.Context
	span  trace.Span
	start time.Time
	entry *logging.InvocationLog
}

func (b *base) begin(ctx context.Context, op string, function string) *call {
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()[:8]
	}
	ctx, span := observability.StartSpan(ctx, "executor."+op,
		observability.AttrKind.String(string(b.kind)),
		observability.AttrFunction.String(function),
		observability.AttrRequestID.String(requestID),
	)
	if b.opts.handle != "" {
		span.SetAttributes(observability.AttrHandle.String(b.opts.handle))
	}
	traceID, spanID := observability.IDs(ctx)
	return &call{
		b:     b,
		ctx:   ctx,
		span:  span,
		start: time.Now(),
		entry: &logging.InvocationLog{
			RequestID: requestID,
			TraceID:   traceID,
			SpanID:    spanID,
			Handle:    b.opts.handle,
			Function:  function,
			Kind:      string(b.kind),
		},
	}
}

// finish records the outcome of the call and returns err unchanged.
func (c *call) finish(err error) error {
	c.entry.Timestamp = c.start
	c.entry.DurationMs = time.Since(c.start).Milliseconds()
	c.entry.Success = err == nil
	if err != nil {
		c.entry.Error = err.Error()
		c.entry.ErrorKind = domain.KindOf(err)
		c.span.SetAttributes(observability.AttrErrorKind.String(c.entry.ErrorKind))
		observability.SetSpanError(c.span, err)
	} else {
		observability.SetSpanOK(c.span)
	}
	c.span.SetAttributes(
		observability.AttrInputs.Int(c.entry.Inputs),
		observability.AttrOutputs.Int(c.entry.Outputs),
		observability.AttrDurationMs.Int64(c.entry.DurationMs),
	)
	c.span.End()

	metrics.Global().RecordInvocation(c.entry.Function, c.entry.Kind, c.entry.DurationMs, err == nil)
	c.b.opts.logger.Log(c.ctx, c.entry)
	return err
}

// invoke calls the resolved function and classifies failures.
func invoke(res *resolver.Resolved, args []any) (any, error) {
	out, err := res.Eval(args...)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, udf.ErrArgument) {
		return nil, domain.WrapConversion(err, "call %s", res.Name)
	}
	return nil, domain.WrapEvaluation(err, "call %s", res.Name)
}

// spread turns a native argument into positional arguments: a list is
// spread, anything else is a single argument.
func spread(native any) []any {
	if list, ok := native.([]any); ok {
		return list
	}
	return []any{native}
}

type requestIDKey struct{}

// ContextWithRequestID tags calls made with ctx with id in logs and traces.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func describe(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return s
}
