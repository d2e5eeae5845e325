package frame

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ReadCSV decodes comma-delimited text without a header row, naming the
// columns by position. Each column takes the narrowest type all of its
// non-empty cells parse as: int64, then float64, then bool (true/false in any
// case), else string. Empty cells are nil, except in string columns where
// they stay "".
func ReadCSV(text string, names []string) (*Frame, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	raw := make([][]string, len(names))
	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if len(record) > len(names) {
			return nil, fmt.Errorf("record %d has %d fields, only %d column names given", line, len(record), len(names))
		}
		for i := range names {
			cell := ""
			if i < len(record) {
				cell = record[i]
			}
			raw[i] = append(raw[i], cell)
		}
	}

	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Values: parseColumn(raw[i])}
	}
	return &Frame{Columns: cols}, nil
}

func parseColumn(cells []string) []any {
	values := make([]any, len(cells))
	switch detectType(cells) {
	case Long:
		for i, s := range cells {
			if s != "" {
				n, _ := strconv.ParseInt(s, 10, 64)
				values[i] = n
			}
		}
	case Double:
		for i, s := range cells {
			if s != "" {
				f, _ := strconv.ParseFloat(s, 64)
				values[i] = f
			}
		}
	case Bool:
		for i, s := range cells {
			if s != "" {
				values[i] = strings.EqualFold(s, "true")
			}
		}
	default:
		for i, s := range cells {
			values[i] = s
		}
	}
	return values
}

func detectType(cells []string) Type {
	isInt, isFloat, isBool := true, true, true
	nonEmpty := 0
	for _, s := range cells {
		if s == "" {
			continue
		}
		nonEmpty++
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool && !strings.EqualFold(s, "true") && !strings.EqualFold(s, "false") {
			isBool = false
		}
	}
	switch {
	case nonEmpty == 0:
		return String
	case isInt:
		return Long
	case isFloat:
		return Double
	case isBool:
		return Bool
	}
	return String
}

// WriteCSV encodes the frame as comma-delimited text without header and
// without row index. Floats always carry a decimal point or an exponent so
// that ReadCSV restores them as doubles.
func (f *Frame) WriteCSV() (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	var b strings.Builder
	n := f.NumRows()
	for i := 0; i < n; i++ {
		for c := range f.Columns {
			if c > 0 {
				b.WriteByte(',')
			}
			cell, err := formatCell(f.Columns[c].Values[i])
			if err != nil {
				return "", fmt.Errorf("column %q row %d: %w", f.Columns[c].Name, i, err)
			}
			// A lone empty field would be an empty line, which readers skip.
			if cell == "" && len(f.Columns) == 1 {
				cell = `""`
			} else {
				cell = quoteField(cell)
			}
			b.WriteString(cell)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func formatCell(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.String:
		return rv.String(), nil
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return fmt.Sprint(v), nil
}

func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 0) {
		if f > 0 {
			return "Inf"
		}
		return "-Inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func quoteField(s string) string {
	if s == "" || !strings.ContainsAny(s, ",\"\r\n") && s[0] != ' ' && s[0] != '\t' {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
