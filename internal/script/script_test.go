package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const mathx = `
PREFIX=">"
plus() {
	echo $(( $1 + $2 ))
}
greet() {
	printf '%s %s\n' "$PREFIX" "$1"
}
pairs() {
	printf 'a\t1\n'
	printf 'b\t2\n'
}
fail() {
	echo "nope" >&2
	return 3
}
`

func TestParse_DiscoversFunctions(t *testing.T) {
	m, err := Parse("mathx", []byte(mathx))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"plus", "greet", "pairs", "fail"}
	if got := m.Functions(); !slices.Equal(got, want) {
		t.Fatalf("Functions = %v, want %v", got, want)
	}
	if _, ok := m.Function("missing"); ok {
		t.Fatal("unexpected function")
	}
}

func TestParse_SyntaxError(t *testing.T) {
	if _, err := Parse("bad", []byte("plus() {")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFunction_Call(t *testing.T) {
	m, err := Parse("mathx", []byte(mathx))
	if err != nil {
		t.Fatal(err)
	}
	plus, _ := m.Function("plus")
	got, err := plus.Call(int64(2), int64(40))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != Output("42") {
		t.Fatalf("got %#v, want 42", got)
	}

	greet, _ := m.Function("greet")
	got, err = greet.Call("it's me")
	if err != nil {
		t.Fatal(err)
	}
	if got != Output("> it's me") {
		t.Fatalf("got %q", got)
	}
}

func TestFunction_NonZeroExit(t *testing.T) {
	m, err := Parse("mathx", []byte(mathx))
	if err != nil {
		t.Fatal(err)
	}
	fail, _ := m.Function("fail")
	_, err = fail.Call()
	var exit *ExitError
	if !errors.As(err, &exit) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exit.Status != 3 || exit.Stderr != "nope" {
		t.Fatalf("exit = %+v", exit)
	}
}

func TestOutput_Rows(t *testing.T) {
	m, err := Parse("mathx", []byte(mathx))
	if err != nil {
		t.Fatal(err)
	}
	pairs, _ := m.Function("pairs")
	out, err := pairs.Call()
	if err != nil {
		t.Fatal(err)
	}
	var rows [][]any
	for r := range out.(Output).Rows() {
		rows = append(rows, r.([]any))
	}
	if len(rows) != 2 || rows[0][0] != "a" || rows[1][1] != "2" {
		t.Fatalf("rows = %v", rows)
	}

	var n int
	for range Output("").Rows() {
		n++
	}
	if n != 0 {
		t.Fatalf("empty output yielded %d rows", n)
	}
}

func TestModule_CallBody(t *testing.T) {
	m, err := Parse("closure", []byte(`echo "$#:$1:$2"`))
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Call("x", map[string]any{"k": 1})
	if err != nil {
		t.Fatal(err)
	}
	if got != Output(`2:x:{"k":1}`) {
		t.Fatalf("got %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.sh")
	if err := os.WriteFile(path, []byte("here() { pwd; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if m.Name != "tools" || m.ID == "" {
		t.Fatalf("module = %+v", m)
	}
	if err := m.Exec(context.Background()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	here, ok := m.Function("here")
	if !ok {
		t.Fatal("function here not found")
	}
	got, err := here.Call()
	if err != nil {
		t.Fatal(err)
	}
	// The module runs from its own directory.
	want, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(string(got.(Output)))
	if gotDir != want {
		t.Fatalf("pwd = %q, want %q", got, dir)
	}
}
