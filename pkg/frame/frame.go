// Package frame is the tabular value exchanged with batch functions: an
// ordered set of named columns holding int64, float64, bool, string or nil
// cells. Frames travel across the boundary as headerless CSV paired with a
// schema string.
package frame

import (
	"fmt"
	"strings"
)

// Column is a named column of cells.
type Column struct {
	Name   string
	Values []any
}

// Frame is an ordered collection of equally sized columns.
type Frame struct {
	Columns []Column
}

// New builds a frame from columns, which must all have the same length.
func New(cols ...Column) (*Frame, error) {
	f := &Frame{Columns: cols}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// FromRows builds a frame from row-major data.
func FromRows(names []string, rows [][]any) (*Frame, error) {
	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Values: make([]any, 0, len(rows))}
	}
	for r, row := range rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("row %d has %d fields, want %d", r, len(row), len(names))
		}
		for i, v := range row {
			cols[i].Values = append(cols[i].Values, v)
		}
	}
	return &Frame{Columns: cols}, nil
}

// Validate checks that every column has the same number of cells.
func (f *Frame) Validate() error {
	if len(f.Columns) == 0 {
		return nil
	}
	n := len(f.Columns[0].Values)
	for _, c := range f.Columns[1:] {
		if len(c.Values) != n {
			return fmt.Errorf("column %q has %d rows, column %q has %d", c.Name, len(c.Values), f.Columns[0].Name, n)
		}
	}
	return nil
}

func (f *Frame) NumRows() int {
	if len(f.Columns) == 0 {
		return 0
	}
	return len(f.Columns[0].Values)
}

func (f *Frame) Names() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column called name.
func (f *Frame) Column(name string) (*Column, bool) {
	for i := range f.Columns {
		if f.Columns[i].Name == name {
			return &f.Columns[i], true
		}
	}
	return nil, false
}

// Row returns the cells of row i in column order.
func (f *Frame) Row(i int) []any {
	row := make([]any, len(f.Columns))
	for c := range f.Columns {
		row[c] = f.Columns[c].Values[i]
	}
	return row
}

// AddColumn appends a column. Its length must match the existing rows.
func (f *Frame) AddColumn(name string, values []any) error {
	if len(f.Columns) > 0 && len(values) != f.NumRows() {
		return fmt.Errorf("column %q has %d rows, frame has %d", name, len(values), f.NumRows())
	}
	f.Columns = append(f.Columns, Column{Name: name, Values: values})
	return nil
}

// Head renders up to n rows for diagnostics.
func (f *Frame) Head(n int) string {
	var b strings.Builder
	b.WriteString(strings.Join(f.Names(), "\t"))
	for i := 0; i < f.NumRows() && i < n; i++ {
		b.WriteByte('\n')
		for c, v := range f.Row(i) {
			if c > 0 {
				b.WriteByte('\t')
			}
			fmt.Fprint(&b, v)
		}
	}
	return b.String()
}

// String renders the frame as headerless CSV, the same text WriteCSV produces.
func (f *Frame) String() string {
	s, err := f.WriteCSV()
	if err != nil {
		return fmt.Sprintf("<invalid frame: %v>", err)
	}
	return s
}
