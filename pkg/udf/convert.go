package udf

import (
	"fmt"
	"math"
	"reflect"
)

// convertArg adapts a to the parameter type t. Numeric values convert across
// widths when no precision is lost, and generic slices and maps convert
// element-wise.
func convertArg(a any, t reflect.Type) (reflect.Value, error) {
	if a == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: nil is not a valid %s", ErrArgument, t)
	}

	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(t) {
		return v, nil
	}

	switch {
	case isNumeric(v.Kind()) && isNumeric(t.Kind()):
		return convertNumber(v, t)
	case v.Kind() == reflect.String && t.Kind() == reflect.String,
		v.Kind() == reflect.Bool && t.Kind() == reflect.Bool:
		return v.Convert(t), nil
	case t.Kind() == reflect.Slice && (v.Kind() == reflect.Slice || v.Kind() == reflect.Array):
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			ev, err := convertArg(v.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	case t.Kind() == reflect.Map && v.Kind() == reflect.Map:
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, err := convertArg(iter.Key().Interface(), t.Key())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("map key: %w", err)
			}
			ev, err := convertArg(iter.Value().Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("map value %v: %w", iter.Key(), err)
			}
			out.SetMapIndex(k, ev)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrArgument, a, t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func convertNumber(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	var f float64
	switch {
	case v.CanInt():
		f = float64(v.Int())
	case v.CanUint():
		f = float64(v.Uint())
	default:
		f = v.Float()
	}

	switch {
	case t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64:
		return v.Convert(t), nil
	case v.CanFloat() && (f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f)):
		return reflect.Value{}, fmt.Errorf("%w: %v is not an integer", ErrArgument, v.Interface())
	}

	out := reflect.New(t).Elem()
	if out.CanInt() {
		var n int64
		switch {
		case v.CanInt():
			n = v.Int()
		case v.CanUint():
			if v.Uint() > math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("%w: %v overflows %s", ErrArgument, v.Interface(), t)
			}
			n = int64(v.Uint())
		default:
			if f < math.MinInt64 || f >= math.MaxInt64 {
				return reflect.Value{}, fmt.Errorf("%w: %v overflows %s", ErrArgument, v.Interface(), t)
			}
			n = int64(f)
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("%w: %v overflows %s", ErrArgument, v.Interface(), t)
		}
		out.SetInt(n)
		return out, nil
	}

	if f < 0 || (v.CanInt() && v.Int() < 0) {
		return reflect.Value{}, fmt.Errorf("%w: %v is negative, want %s", ErrArgument, v.Interface(), t)
	}
	var u uint64
	switch {
	case v.CanInt():
		u = uint64(v.Int())
	case v.CanUint():
		u = v.Uint()
	default:
		if f >= math.MaxUint64 {
			return reflect.Value{}, fmt.Errorf("%w: %v overflows %s", ErrArgument, v.Interface(), t)
		}
		u = uint64(f)
	}
	if out.OverflowUint(u) {
		return reflect.Value{}, fmt.Errorf("%w: %v overflows %s", ErrArgument, v.Interface(), t)
	}
	out.SetUint(u)
	return out, nil
}
