package frame

import (
	"fmt"
	"reflect"
	"strings"
)

// Type is the coarse category of a column as seen by the host.
type Type string

const (
	Long   Type = "long"
	Double Type = "double"
	Bool   Type = "bool"
	String Type = "string"
)

// Field is one column of a schema.
type Field struct {
	Name string
	Type Type
}

// Schema is an ordered list of fields.
type Schema []Field

// String renders the schema as "name type, name type".
func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = f.Name + " " + string(f.Type)
	}
	return strings.Join(parts, ", ")
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// ParseSchema parses the form produced by Schema.String.
func ParseSchema(s string) (Schema, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Schema{}, nil
	}
	var out Schema
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid schema field %q", strings.TrimSpace(part))
		}
		out = append(out, Field{Name: fields[0], Type: Type(strings.ToLower(fields[1]))})
	}
	return out, nil
}

// CategoryOf classifies a single cell. ok is false for nil and for values
// outside the four categories.
func CategoryOf(v any) (t Type, ok bool) {
	if v == nil {
		return "", false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Long, true
	case reflect.Float32, reflect.Float64:
		return Double, true
	case reflect.Bool:
		return Bool, true
	case reflect.String:
		return String, true
	}
	return "", false
}

// InferColumnType determines the category of a column from its cells, in
// priority order integer, float, bool, string. Nil cells are ignored and an
// all-nil column is a string column. ok is false when the cells do not share
// a category; the column then defaults to String.
func InferColumnType(values []any) (t Type, ok bool) {
	seen := make(map[Type]bool, 4)
	for _, v := range values {
		if v == nil {
			continue
		}
		c, known := CategoryOf(v)
		if !known {
			return String, false
		}
		seen[c] = true
	}

	switch {
	case len(seen) == 0:
		return String, true
	case len(seen) == 1 && seen[Long]:
		return Long, true
	case !seen[Bool] && !seen[String]:
		// ints mixed with floats widen to double
		return Double, true
	case len(seen) == 1 && seen[Bool]:
		return Bool, true
	case len(seen) == 1 && seen[String]:
		return String, true
	}
	return String, false
}

// InferSchema infers the schema of f. undetermined lists the columns whose
// type could not be determined and were defaulted to String.
func InferSchema(f *Frame) (schema Schema, undetermined []string) {
	schema = make(Schema, len(f.Columns))
	for i, c := range f.Columns {
		t, ok := InferColumnType(c.Values)
		if !ok {
			undetermined = append(undetermined, c.Name)
		}
		schema[i] = Field{Name: c.Name, Type: t}
	}
	return schema, undetermined
}
