package codeloader

import (
	"fmt"
	"plugin"
	"reflect"
)

type pluginModule struct {
	name string
	path string
	p    *plugin.Plugin
}

func openPlugin(name, path string) (*pluginModule, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	return &pluginModule{name: name, path: path, p: p}, nil
}

func (m *pluginModule) Name() string { return m.name }

// Lookup returns an exported symbol of the plugin. A variable holding a
// function comes back as a pointer and is dereferenced.
func (m *pluginModule) Lookup(attr string) (any, bool) {
	sym, err := m.p.Lookup(attr)
	if err != nil {
		return nil, false
	}
	v := reflect.ValueOf(sym)
	if v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Kind() == reflect.Func {
		return v.Elem().Interface(), true
	}
	return sym, true
}
