package udf

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps fully qualified names to functions, constructors and instances.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]any
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty registry. Most callers use the process-wide
// registry through Register and Lookup.
func NewRegistry() *Registry {
	return &Registry{symbols: make(map[string]any)}
}

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds v under name to the process-wide registry.
func Register(name string, v any) {
	defaultRegistry.Register(name, v)
}

// Lookup returns the value registered under name in the process-wide registry.
func Lookup(name string) (any, bool) {
	return defaultRegistry.Lookup(name)
}

// Register adds v under name. Registering a name twice replaces the previous
// value, so the most recently loaded module wins.
// It panics if name is empty or v is nil.
func (r *Registry) Register(name string, v any) {
	if name == "" {
		panic("udf: Register with empty name")
	}
	if v == nil {
		panic(fmt.Sprintf("udf: Register %q with nil value", name))
	}
	r.mu.Lock()
	r.symbols[name] = v
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.symbols[name]
	return v, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.symbols))
	for name := range r.symbols {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
