// Package runner keeps initialized invocation adapters under handle ids so
// that transports can route calls to them.
package runner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/executor"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/metrics"
)

// ErrUnknownHandle is returned for calls on a handle that was never
// initialized or is already closed.
var ErrUnknownHandle = domain.ConfigurationError("unknown handle")

// InitRequest describes the adapter to create.
type InitRequest struct {
	Kind        executor.Capability `json:"kind"`
	Config      string              `json:"config"`
	ResultType  string              `json:"result_type,omitempty"`
	ResultTypes []string            `json:"result_types,omitempty"`
}

// HandleInfo describes a live handle.
type HandleInfo struct {
	ID       string              `json:"id"`
	Kind     executor.Capability `json:"kind"`
	Function string              `json:"function"`
	Created  time.Time           `json:"created"`
	Calls    int64               `json:"calls"`
}

type handle struct {
	id      string
	kind    executor.Capability
	created time.Time
	adapter executor.Adapter

	// mu serializes calls so the per-call collector stays attached to the
	// call that installed it.
	mu    sync.Mutex
	rows  *rowRouter
	calls atomic.Int64
}

// Runner owns the adapters created through Init.
type Runner struct {
	opts []executor.Option

	mu      sync.RWMutex
	handles map[string]*handle
}

// New returns a runner whose adapters are built with opts.
func New(opts ...executor.Option) *Runner {
	return &Runner{opts: opts, handles: make(map[string]*handle)}
}

// Init creates and initializes an adapter and returns its handle id.
func (r *Runner) Init(ctx context.Context, req InitRequest) (string, error) {
	id := uuid.New().String()
	opts := append(append([]executor.Option(nil), r.opts...), executor.WithHandle(id))
	h := &handle{id: id, kind: req.Kind, created: time.Now()}

	switch req.Kind {
	case executor.CapScalarEval:
		f := executor.NewScalarFn(opts...)
		if err := f.Init(ctx, req.Config, req.ResultType); err != nil {
			return "", err
		}
		h.adapter = f
	case executor.CapRowEval:
		f := executor.NewTableFn(opts...)
		h.rows = &rowRouter{}
		if err := f.Init(ctx, h.rows, req.Config, req.ResultTypes); err != nil {
			return "", err
		}
		h.adapter = f
	case executor.CapDataFrameCalc:
		f := executor.NewDataFrameFn(opts...)
		if err := f.Init(ctx, req.Config); err != nil {
			return "", err
		}
		h.adapter = f
	default:
		return "", domain.ConfigurationError("unknown adapter kind %q", req.Kind)
	}

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()
	r.publish(req.Kind)
	logging.OpContext(ctx).Info("handle created", "handle", id, "kind", req.Kind, "function", h.adapter.Resolved().Name)
	return id, nil
}

func (r *Runner) get(id string) (*handle, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownHandle
	}
	return h, nil
}

// Eval calls a scalar-eval or row-eval handle. Rows of a row-eval call go to
// rows, which may be nil for scalar handles; the scalar result is returned.
func (r *Runner) Eval(ctx context.Context, id string, args any, rows executor.RowCollector) (any, error) {
	h, err := r.get(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.Add(1)

	switch f := h.adapter.(type) {
	case *executor.ScalarFn:
		return f.Eval(ctx, args)
	case *executor.TableFn:
		if rows == nil {
			return nil, domain.ConfigurationError("row-eval handle %s needs a row collector", id)
		}
		h.rows.target = rows
		defer func() { h.rows.target = nil }()
		return nil, f.Eval(ctx, args)
	}
	return nil, domain.ConfigurationError("handle %s is %s and does not support eval", id, h.kind)
}

// Calc calls a dataframe-calc handle and sends its outputs to frames.
func (r *Runner) Calc(ctx context.Context, id string, metadata map[string]string, contents []string, frames executor.FrameCollector) error {
	h, err := r.get(id)
	if err != nil {
		return err
	}
	f, ok := h.adapter.(*executor.DataFrameFn)
	if !ok {
		return domain.ConfigurationError("handle %s is %s and does not support calc", id, h.kind)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.Add(1)
	f.SetCollector(frames)
	defer f.SetCollector(nil)
	return f.Calc(ctx, metadata, contents)
}

// Close drops a handle.
func (r *Runner) Close(id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	r.publish(h.kind)
	logging.Op().Info("handle closed", "handle", id, "kind", h.kind)
	return nil
}

// CloseAll drops every handle.
func (r *Runner) CloseAll() {
	r.mu.Lock()
	kinds := make(map[executor.Capability]bool)
	for id, h := range r.handles {
		kinds[h.kind] = true
		delete(r.handles, id)
	}
	r.mu.Unlock()
	for k := range kinds {
		r.publish(k)
	}
}

// Handles lists live handles ordered by creation time.
func (r *Runner) Handles() []HandleInfo {
	r.mu.RLock()
	list := make([]*handle, 0, len(r.handles))
	for _, h := range r.handles {
		list = append(list, h)
	}
	r.mu.RUnlock()

	infos := make([]HandleInfo, len(list))
	for i, h := range list {
		infos[i] = HandleInfo{
			ID:       h.id,
			Kind:     h.kind,
			Function: h.adapter.Resolved().Name,
			Created:  h.created,
			Calls:    h.calls.Load(),
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Created.Before(infos[j].Created) })
	return infos
}

func (r *Runner) publish(kind executor.Capability) {
	r.mu.RLock()
	n := 0
	for _, h := range r.handles {
		if h.kind == kind {
			n++
		}
	}
	r.mu.RUnlock()
	metrics.SetActiveHandles(string(kind), n)
}

// rowRouter forwards rows to the collector of the call in progress.
type rowRouter struct {
	target executor.RowCollector
}

func (r *rowRouter) Collect(row []any) error {
	if r.target == nil {
		return domain.ConfigurationError("no row collector attached")
	}
	return r.target.Collect(row)
}
