// Package convert translates values between their boundary form, as
// received from and returned to the host, and the native Go values user
// functions work with.
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/oriys/fnbridge/internal/domain"
)

// ToNative turns decoded boundary values into plain Go values. JSON numbers
// become int64 when integral and float64 otherwise; slices and maps are
// converted recursively. Everything else is returned unchanged.
func ToNative(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToNative(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToNative(e)
		}
		return out
	}
	return v
}

// Type descriptors understood by ToBoundary. Names follow the SQL type
// names used by table engines; lookup is case-insensitive and ignores a
// trailing length such as VARCHAR(32).
const (
	Long    = "LONG"
	Int     = "INT"
	Short   = "SHORT"
	Byte    = "BYTE"
	Double  = "DOUBLE"
	Float   = "FLOAT"
	Boolean = "BOOLEAN"
	String  = "STRING"
)

var aliases = map[string]string{
	"LONG":     Long,
	"BIGINT":   Long,
	"INT":      Int,
	"INTEGER":  Int,
	"SHORT":    Short,
	"SMALLINT": Short,
	"BYTE":     Byte,
	"TINYINT":  Byte,
	"DOUBLE":   Double,
	"FLOAT":    Float,
	"BOOLEAN":  Boolean,
	"BOOL":     Boolean,
	"STRING":   String,
	"VARCHAR":  String,
}

// Canonical returns the canonical descriptor for typ, or "" when typ is not
// a known type.
func Canonical(typ string) string {
	t := strings.ToUpper(strings.TrimSpace(typ))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return aliases[t]
}

// ToBoundary converts a native result to the Go representation of typ:
// int64, int32, int16, int8, float64, float32, bool or string. nil stays
// nil, and unknown descriptors pass v through unchanged.
func ToBoundary(v any, typ string) (any, error) {
	if v == nil {
		return nil, nil
	}
	canon := Canonical(typ)
	if canon == "" {
		return v, nil
	}
	// Named string types such as script output convert like plain strings.
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		v = rv.String()
	}

	var (
		out any
		err error
	)
	switch canon {
	case Long:
		out, err = toInt(v, 64)
	case Int:
		out, err = toInt(v, 32)
	case Short:
		out, err = toInt(v, 16)
	case Byte:
		out, err = toInt(v, 8)
	case Double:
		out, err = toFloat(v, 64)
	case Float:
		out, err = toFloat(v, 32)
	case Boolean:
		out, err = toBool(v)
	case String:
		out, err = toString(v)
	}
	if err != nil {
		return nil, domain.WrapConversion(err, "cannot convert %T to %s", v, canon)
	}
	return out, nil
}

// ToBoundaryRow converts each field of row with the descriptor at the same
// position.
func ToBoundaryRow(row []any, types []string) ([]any, error) {
	if len(row) != len(types) {
		return nil, domain.ConversionError("row has %d fields, result type has %d", len(row), len(types))
	}
	out := make([]any, len(row))
	for i, v := range row {
		c, err := ToBoundary(v, types[i])
		if err != nil {
			return nil, domain.WrapConversion(err, "field %d", i)
		}
		out[i] = c
	}
	return out, nil
}

func toInt(v any, bits int) (any, error) {
	var i int64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, err
		}
		i = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, bits)
		if err != nil {
			return nil, err
		}
		i = n
	default:
		rv := reflect.ValueOf(v)
		switch {
		case rv.CanInt():
			i = rv.Int()
		case rv.CanUint():
			u := rv.Uint()
			if u > math.MaxInt64 {
				return nil, fmt.Errorf("%d overflows int64", u)
			}
			i = int64(u)
		case rv.CanFloat():
			f := rv.Float()
			if f != math.Trunc(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			i = int64(f)
		default:
			return nil, fmt.Errorf("not a number")
		}
	}

	lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
	if bits == 64 {
		lo, hi = math.MinInt64, math.MaxInt64
	}
	if i < lo || i > hi {
		return nil, fmt.Errorf("%d overflows int%d", i, bits)
	}
	switch bits {
	case 8:
		return int8(i), nil
	case 16:
		return int16(i), nil
	case 32:
		return int32(i), nil
	}
	return i, nil
}

func toFloat(v any, bits int) (any, error) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return nil, err
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), bits)
		if err != nil {
			return nil, err
		}
		f = n
	default:
		rv := reflect.ValueOf(v)
		switch {
		case rv.CanFloat():
			f = rv.Float()
		case rv.CanInt():
			f = float64(rv.Int())
		case rv.CanUint():
			f = float64(rv.Uint())
		default:
			return nil, fmt.Errorf("not a number")
		}
	}
	if bits == 32 {
		return float32(f), nil
	}
	return f, nil
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.Bool:
		return rv.Bool(), nil
	case rv.CanInt() && (rv.Int() == 0 || rv.Int() == 1):
		return rv.Int() == 1, nil
	}
	return nil, fmt.Errorf("not a boolean")
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return fmt.Sprint(v), nil
}
