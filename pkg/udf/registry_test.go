package udf

import (
	"testing"
)

func TestRegistry_LaterRegistrationWins(t *testing.T) {
	r := NewRegistry()
	r.Register("m.f", 1)
	r.Register("m.f", 2)
	v, ok := r.Lookup("m.f")
	if !ok || v != 2 {
		t.Fatalf("Lookup = (%v, %v), want (2, true)", v, ok)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("b.x", 1)
	r.Register("a.y", 2)
	names := r.Names()
	if len(names) != 2 || names[0] != "a.y" || names[1] != "b.x" {
		t.Fatalf("Names = %v", names)
	}
}

func TestRegistry_RegisterPanics(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"empty name", "", 1},
		{"nil value", "m.f", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			NewRegistry().Register(tt.key, tt.value)
		})
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	if _, ok := NewRegistry().Lookup("nope"); ok {
		t.Fatal("expected miss")
	}
}
