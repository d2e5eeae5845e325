package codeloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/script"
)

// ErrNotFound is returned by Find when no loaded or loadable module provides
// the requested attribute.
var ErrNotFound = errors.New("symbol not found")

// Module is loaded code whose attributes can be looked up by name.
type Module interface {
	Name() string
	Lookup(attr string) (any, bool)
}

// Modules is the table of loaded modules keyed by module name. Loading a
// module under a name that is already present replaces the earlier one.
type Modules struct {
	mu      sync.RWMutex
	modules map[string]Module

	noPlugins bool
}

var defaultModules = NewModules()

// DefaultModules returns the process-wide module table.
func DefaultModules() *Modules {
	return defaultModules
}

func NewModules() *Modules {
	return &Modules{modules: make(map[string]Module)}
}

// SetPluginsEnabled controls whether .so files may be opened. Plugins run
// native code in the host process and cannot be unloaded.
func (m *Modules) SetPluginsEnabled(enabled bool) {
	m.mu.Lock()
	m.noPlugins = !enabled
	m.mu.Unlock()
}

// IsModuleFile reports whether path names a file Load understands.
func IsModuleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".so", ".sh":
		return true
	}
	return false
}

// Load loads the module file at path under its file stem.
func (m *Modules) Load(ctx context.Context, path string) (Module, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return m.LoadAs(ctx, name, path)
}

// LoadAs loads the module file at path under name. Shell modules run their
// top level once, plugins run their init functions.
func (m *Modules) LoadAs(ctx context.Context, name, path string) (Module, error) {
	var mod Module
	switch strings.ToLower(filepath.Ext(path)) {
	case ".so":
		m.mu.RLock()
		disabled := m.noPlugins
		m.mu.RUnlock()
		if disabled {
			return nil, fmt.Errorf("plugins are disabled, cannot load %s", path)
		}
		p, err := openPlugin(name, path)
		if err != nil {
			return nil, err
		}
		mod = p
	case ".sh":
		s, err := script.LoadFile(path)
		if err != nil {
			return nil, err
		}
		s.Name = name
		if err := s.Exec(ctx); err != nil {
			return nil, fmt.Errorf("run module %s: %w", path, err)
		}
		mod = &shellModule{mod: s}
		logging.Op().Debug("shell module loaded", "module", name, "id", s.ID, "functions", s.Functions())
	default:
		return nil, fmt.Errorf("unsupported module file: %s", path)
	}

	m.mu.Lock()
	m.modules[name] = mod
	m.mu.Unlock()
	logging.Op().Info("module loaded", "module", name, "path", path)
	return mod, nil
}

// Get returns the loaded module called name.
func (m *Modules) Get(name string) (Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[name]
	return mod, ok
}

// Lookup returns attr from the loaded module called module.
func (m *Modules) Lookup(module, attr string) (any, bool) {
	mod, ok := m.Get(module)
	if !ok {
		return nil, false
	}
	return mod.Lookup(attr)
}

// Find resolves a qualified name "<module path>.<attr>". Loaded modules are
// consulted first, then the search path is probed for
// <dir>/<module path with dots as separators>.so or .sh, which is loaded on
// first hit.
func (m *Modules) Find(ctx context.Context, qualified string, path *SearchPath) (any, error) {
	i := strings.LastIndex(qualified, ".")
	if i <= 0 || i == len(qualified)-1 {
		return nil, fmt.Errorf("%w: %q is not a qualified name", ErrNotFound, qualified)
	}
	module, attr := qualified[:i], qualified[i+1:]

	if mod, ok := m.Get(module); ok {
		if v, ok := mod.Lookup(attr); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: module %s has no attribute %s", ErrNotFound, module, attr)
	}

	file, ok := path.probe(module, ".so", ".sh")
	if !ok {
		return nil, fmt.Errorf("%w: no module named %s", ErrNotFound, module)
	}
	mod, err := m.LoadAs(ctx, module, file)
	if err != nil {
		return nil, err
	}
	if v, ok := mod.Lookup(attr); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: module %s has no attribute %s", ErrNotFound, module, attr)
}

type shellModule struct {
	mod *script.Module
}

func (s *shellModule) Name() string { return s.mod.Name }

func (s *shellModule) Lookup(attr string) (any, bool) {
	f, ok := s.mod.Function(attr)
	if !ok {
		return nil, false
	}
	return f, true
}
