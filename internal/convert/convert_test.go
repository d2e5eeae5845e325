package convert

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/oriys/fnbridge/internal/domain"
)

func TestToNative(t *testing.T) {
	var decoded any
	dec := json.NewDecoder(strings.NewReader(`[1, 2.5, "x", true, null, {"n": 7, "l": [3]}]`))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		t.Fatal(err)
	}

	got := ToNative(decoded)
	want := []any{int64(1), 2.5, "x", true, nil, map[string]any{"n": int64(7), "l": []any{int64(3)}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ToNative mismatch (-want +got):\n%s", diff)
	}
}

func TestToBoundary(t *testing.T) {
	tests := []struct {
		typ  string
		in   any
		want any
	}{
		{"LONG", 3, int64(3)},
		{"bigint", json.Number("42"), int64(42)},
		{"INT", int64(7), int32(7)},
		{"integer", 2.0, int32(2)},
		{"SMALLINT", "12", int16(12)},
		{"TINYINT", uint8(5), int8(5)},
		{"DOUBLE", 3, float64(3)},
		{"DOUBLE", " 1.5 ", 1.5},
		{"FLOAT", 0.5, float32(0.5)},
		{"BOOLEAN", "TRUE", true},
		{"BOOLEAN", int64(0), false},
		{"STRING", 42, "42"},
		{"VARCHAR(16)", 2.5, "2.5"},
		{"STRING", []any{int64(1), "a"}, `[1,"a"]`},
		{"DECIMAL", "opaque", "opaque"},
		{"LONG", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := ToBoundary(tt.in, tt.typ)
			if err != nil {
				t.Fatalf("ToBoundary(%v, %s): %v", tt.in, tt.typ, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToBoundary_Mismatch(t *testing.T) {
	tests := []struct {
		typ string
		in  any
	}{
		{"LONG", "abc"},
		{"LONG", 1.5},
		{"TINYINT", 300},
		{"INT", int64(1) << 40},
		{"DOUBLE", true},
		{"BOOLEAN", 2},
		{"BOOLEAN", "maybe"},
	}
	for _, tt := range tests {
		_, err := ToBoundary(tt.in, tt.typ)
		if !errors.Is(err, domain.ErrConversion) {
			t.Errorf("ToBoundary(%v, %s) err = %v, want conversion error", tt.in, tt.typ, err)
		}
	}
}

func TestToBoundaryRow(t *testing.T) {
	got, err := ToBoundaryRow([]any{int64(1), "x", nil}, []string{"INT", "STRING", "DOUBLE"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{int32(1), "x", nil}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	if _, err := ToBoundaryRow([]any{1, 2}, []string{"LONG"}); !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("length mismatch err = %v", err)
	}
	if _, err := ToBoundaryRow([]any{"x"}, []string{"LONG"}); !errors.Is(err, domain.ErrConversion) {
		t.Fatalf("field mismatch err = %v", err)
	}
}
