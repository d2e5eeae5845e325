// Package resolver turns a UDF configuration into exactly one resolved
// function. Code paths are made importable first, then the function is
// found by qualified name or decoded from an embedded closure.
package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/fnbridge/internal/codeloader"
	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/metrics"
	"github.com/oriys/fnbridge/internal/observability"
	"github.com/oriys/fnbridge/internal/pkg/crypto"
	"github.com/oriys/fnbridge/pkg/udf"
)

// Resolved is a materialized user function.
type Resolved struct {
	// Value is what resolution produced: an object instance, a bare func
	// used directly, or the Eval wrapper around a callable.
	Value any
	// Fn is the evaluation view of Value.
	Fn       udf.Function
	Strategy string
	Name     string
}

// Eval calls the resolved function.
func (r *Resolved) Eval(args ...any) (any, error) {
	return r.Fn.Eval(args...)
}

// AcceptsUserParams reports whether the function takes udf.UserParams as its
// trailing argument.
func (r *Resolved) AcceptsUserParams() bool {
	if pa, ok := r.Value.(udf.ParamsAware); ok {
		return pa.AcceptsUserParams()
	}
	return udf.AcceptsUserParams(r.Fn)
}

// Kind describes Value for diagnostics.
func (r *Resolved) Kind() string {
	if f, ok := r.Value.(udf.Function); ok {
		if _, wrapped := udf.Unwrap(f); wrapped {
			return "wrapped callable"
		}
	}
	if udf.IsCallable(r.Value) {
		return "callable"
	}
	return fmt.Sprintf("object %T", r.Value)
}

type Resolver struct {
	cfg      domain.UDFConfig
	loader   *codeloader.Loader
	registry *udf.Registry
	decoders *Decoders

	mu       sync.Mutex
	done     bool
	resolved *Resolved
	err      error
}

type Option func(*Resolver)

func WithLoader(l *codeloader.Loader) Option {
	return func(r *Resolver) { r.loader = l }
}

func WithRegistry(reg *udf.Registry) Option {
	return func(r *Resolver) { r.registry = reg }
}

func WithDecoders(d *Decoders) Option {
	return func(r *Resolver) { r.decoders = d }
}

func New(cfg domain.UDFConfig, opts ...Option) *Resolver {
	r := &Resolver{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.loader == nil {
		r.loader = codeloader.Default()
	}
	if r.registry == nil {
		r.registry = udf.Default()
	}
	if r.decoders == nil {
		r.decoders = DefaultDecoders()
	}
	return r
}

func (r *Resolver) Config() domain.UDFConfig { return r.cfg }

// Resolve materializes the function on first use and returns the same
// result afterwards. A failed resolution is not retried.
func (r *Resolver) Resolve(ctx context.Context) (*Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.resolved, r.err
	}
	r.resolved, r.err = r.resolve(ctx)
	r.done = true
	return r.resolved, r.err
}

func (r *Resolver) resolve(ctx context.Context) (*Resolved, error) {
	log := logging.OpContext(ctx)
	log.Info("udf config received", "config", r.cfg.String(), "wrap_callable", r.cfg.WrapCallable)

	strategyName := "none"
	if s, err := r.cfg.Strategy(); err == nil {
		strategyName = s.String()
	}
	ctx, span := observability.StartSpan(ctx, "resolver.resolve",
		observability.AttrStrategy.String(strategyName))
	defer span.End()

	start := time.Now()
	res, err := r.materialize(ctx)
	metrics.Global().RecordResolution(strategyName, err == nil)
	if err != nil {
		observability.SetSpanError(span, err)
		log.Error("resolve failed", "strategy", strategyName, "error", err, "duration", time.Since(start))
		return nil, err
	}
	res.Strategy = strategyName
	observability.SetSpanOK(span)
	log.Info("udf resolved", "strategy", strategyName, "name", res.Name, "kind", res.Kind(), "duration", time.Since(start))
	return res, nil
}

func (r *Resolver) materialize(ctx context.Context) (*Resolved, error) {
	if _, err := r.loader.MakeImportable(ctx, r.cfg.Paths); err != nil {
		return nil, domain.WrapResolution(err, "make paths importable")
	}

	strategy, err := r.cfg.Strategy()
	if err != nil {
		return nil, err
	}
	switch s := strategy.(type) {
	case domain.ByName:
		return r.byName(ctx, s.Name)
	case domain.BySerializedCode:
		return r.bySerializedCode(ctx, s)
	}
	return nil, domain.ConfigurationError("unsupported strategy %s", strategy)
}

func (r *Resolver) byName(ctx context.Context, name string) (*Resolved, error) {
	sym, ok := r.registry.Lookup(name)
	if !ok {
		v, err := r.loader.Modules().Find(ctx, name, r.loader.SearchPath())
		switch {
		case err == nil:
			sym = v
		case !errors.Is(err, codeloader.ErrNotFound):
			return nil, domain.WrapResolution(err, "load %s", name)
		default:
			// Loading the module runs its init, which may have registered name.
			if sym, ok = r.registry.Lookup(name); !ok {
				return nil, domain.WrapResolution(err, "cannot resolve %s", name)
			}
		}
	}

	res := &Resolved{Name: name}
	switch {
	case udf.IsCallable(sym) && !r.cfg.WrapCallable:
		res.Value = sym
		res.Fn = udf.Wrap(sym)
		return res, nil
	case isFunction(sym):
		return bind(res, sym)
	case udf.IsConstructor(sym):
		inst, err := udf.Call(sym)
		if err != nil {
			return nil, domain.WrapResolution(err, "instantiate %s", name)
		}
		if inst == nil {
			return nil, domain.ResolutionError("constructor %s returned nil", name)
		}
		return bind(res, inst)
	case isCallableValue(sym):
		// A shell function has no declared arity and is exposed as is.
		res.Fn = udf.Wrap(sym)
		res.Value = res.Fn
		return res, nil
	case udf.IsCallable(sym):
		return nil, domain.ResolutionError("%s is a function that takes arguments and cannot be instantiated", name)
	}
	return bind(res, sym)
}

func (r *Resolver) bySerializedCode(ctx context.Context, s domain.BySerializedCode) (*Resolved, error) {
	trace.SpanFromContext(ctx).SetAttributes(observability.AttrFormat.String(string(s.Format)))
	dec, ok := r.decoders.Lookup(s.Format)
	if !ok {
		return nil, domain.ConfigurationError("Invalid class object type: %s", s.Format)
	}
	data, err := base64.StdEncoding.DecodeString(s.Code)
	if err != nil {
		return nil, domain.WrapResolution(err, "decode %s class object", s.Format)
	}
	obj, err := dec.Decode(ctx, data)
	if err != nil {
		return nil, domain.WrapResolution(err, "materialize %s class object", s.Format)
	}
	if obj == nil {
		return nil, domain.ResolutionError("%s class object decoded to nil", s.Format)
	}

	// Decoded objects have no qualified name; the code digest tells them apart.
	res := &Resolved{Name: fmt.Sprintf("%T@%s", obj, crypto.HashBytes(data))}
	logging.OpContext(ctx).Debug("class object decoded", "format", s.Format, "name", res.Name, "bytes", len(data))
	if udf.IsCallable(obj) {
		res.Fn = udf.Wrap(obj)
		res.Value = obj
		if r.cfg.WrapCallable {
			res.Value = res.Fn
		}
		return res, nil
	}
	return bind(res, obj)
}

func bind(res *Resolved, obj any) (*Resolved, error) {
	fn, err := udf.Bind(obj)
	if err != nil {
		return nil, domain.WrapResolution(err, "%s", res.Name)
	}
	res.Value = obj
	res.Fn = fn
	return res, nil
}

func isFunction(v any) bool {
	_, ok := v.(udf.Function)
	return ok
}

func isCallableValue(v any) bool {
	_, ok := v.(udf.Callable)
	return ok
}

// Resolve parses a configuration payload and resolves it with the
// process-wide loader and registry.
func Resolve(ctx context.Context, configJSON []byte, wrapCallable bool) (*Resolved, error) {
	cfg, err := domain.ParseUDFConfig(configJSON)
	if err != nil {
		return nil, err
	}
	cfg.WrapCallable = wrapCallable
	return New(cfg).Resolve(ctx)
}
