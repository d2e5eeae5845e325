// Package script runs shell modules in-process with mvdan/sh. A module is a
// shell source file; every function it declares at top level is callable
// from Go, and the module body itself is callable as a whole.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Module is a parsed shell module.
type Module struct {
	Name string
	// ID distinguishes repeated loads of the same module name.
	ID   string
	Path string

	prog  *syntax.File
	funcs []string
}

// LoadFile parses the shell module at path. The module is named after the
// file stem.
func LoadFile(path string) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m, err := Parse(name, src)
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// Parse parses shell source into a module called name.
func Parse(name string, src []byte) (*Module, error) {
	prog, err := syntax.NewParser().Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	m := &Module{Name: name, ID: uuid.New().String(), prog: prog}
	for _, stmt := range prog.Stmts {
		if fd, ok := stmt.Cmd.(*syntax.FuncDecl); ok {
			m.funcs = append(m.funcs, fd.Name.Value)
		}
	}
	return m, nil
}

// Functions lists the functions declared at the top level of the module.
func (m *Module) Functions() []string {
	return append([]string(nil), m.funcs...)
}

// Function returns the top-level function called name.
func (m *Module) Function(name string) (*Function, bool) {
	for _, f := range m.funcs {
		if f == name {
			return &Function{module: m, name: name}, true
		}
	}
	return nil, false
}

// Exec runs the module body once with no arguments, the equivalent of
// importing it. Its output is discarded.
func (m *Module) Exec(ctx context.Context) error {
	_, err := m.run(ctx, nil, nil)
	return err
}

// Call runs the module body with args as positional parameters.
func (m *Module) Call(args ...any) (any, error) {
	return m.CallContext(context.Background(), args...)
}

func (m *Module) CallContext(ctx context.Context, args ...any) (any, error) {
	params, err := formatArgs(args)
	if err != nil {
		return nil, err
	}
	return m.run(ctx, params, nil)
}

// Function is a shell function declared by a module.
type Function struct {
	module *Module
	name   string
}

func (f *Function) Name() string { return f.module.Name + "." + f.name }

// Call runs the module body, then invokes the function with args.
func (f *Function) Call(args ...any) (any, error) {
	return f.CallContext(context.Background(), args...)
}

func (f *Function) CallContext(ctx context.Context, args ...any) (any, error) {
	params, err := formatArgs(args)
	if err != nil {
		return nil, err
	}
	words := []string{f.name}
	for _, p := range params {
		q, err := syntax.Quote(p, syntax.LangBash)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		words = append(words, q)
	}
	call, err := syntax.NewParser().Parse(strings.NewReader(strings.Join(words, " ")), f.Name())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return f.module.run(ctx, nil, call)
}

// ExitError reports a non-zero exit status together with whatever the
// script wrote to stderr.
type ExitError struct {
	Status uint8
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Status)
	}
	return fmt.Sprintf("exit status %d: %s", e.Status, e.Stderr)
}

func (m *Module) run(ctx context.Context, params []string, call *syntax.File) (Output, error) {
	var stdout, stderr bytes.Buffer
	opts := []interp.RunnerOption{
		interp.StdIO(nil, &stdout, &stderr),
	}
	if len(params) > 0 {
		opts = append(opts, interp.Params(append([]string{"--"}, params...)...))
	}
	if m.Path != "" {
		opts = append(opts, interp.Dir(filepath.Dir(m.Path)))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return "", err
	}

	if err := runner.Run(ctx, m.prog); err != nil {
		return "", exitError(err, &stderr)
	}
	if call != nil && !runner.Exited() {
		if err := runner.Run(ctx, call); err != nil {
			return "", exitError(err, &stderr)
		}
	}
	return Output(strings.TrimRight(stdout.String(), "\n")), nil
}

func exitError(err error, stderr *bytes.Buffer) error {
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return &ExitError{Status: uint8(status), Stderr: strings.TrimSpace(stderr.String())}
	}
	return err
}

func formatArgs(args []any) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		s, err := formatArg(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

func formatArg(a any) (string, error) {
	switch v := a.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case map[string]any, []any:
		b, err := json.Marshal(v)
		return string(b), err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprint(a), nil
	}
	if len(b) > 0 && b[0] == '"' {
		return fmt.Sprint(a), nil
	}
	return string(b), nil
}

// Output is the captured standard output of a run, without the trailing
// newline.
type Output string

func (o Output) String() string { return string(o) }

// Rows yields one row per output line. Tab separated lines become multi
// column rows.
func (o Output) Rows() iter.Seq[any] {
	return func(yield func(any) bool) {
		if o == "" {
			return
		}
		for _, line := range strings.Split(string(o), "\n") {
			var row any = line
			if strings.Contains(line, "\t") {
				fields := strings.Split(line, "\t")
				cells := make([]any, len(fields))
				for i, f := range fields {
					cells[i] = f
				}
				row = cells
			}
			if !yield(row) {
				return
			}
		}
	}
}
