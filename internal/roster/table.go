// Package roster loads school lists from CSV files and Excel workbooks into a
// header-addressed table.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Table is a sheet of string cells addressed by header name.
type Table struct {
	Headers []string
	Rows    []Row

	index map[string]int
}

// Row is one record. Cells beyond the header width are ignored.
type Row struct {
	t     *Table
	cells []string
}

// NewTable creates an empty table with one column per header position.
// Blank headers are named "Unnamed: i" and repeats get a ".n" suffix, so
// row cells always line up with their column.
func NewTable(headers []string) *Table {
	t := &Table{index: make(map[string]int)}
	for _, h := range uniqueHeaders(headers) {
		t.AddColumn(h)
	}
	return t
}

func uniqueHeaders(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for n := 1; seen[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}

// AddColumn appends a column if it does not exist and returns its index.
func (t *Table) AddColumn(name string) int {
	name = strings.TrimSpace(name)
	if i, ok := t.index[name]; ok {
		return i
	}
	t.Headers = append(t.Headers, name)
	t.index[name] = len(t.Headers) - 1
	return len(t.Headers) - 1
}

// Has reports whether the table has a column with the given header.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Lookup finds a header case-insensitively and returns its exact spelling.
func (t *Table) Lookup(names ...string) (string, bool) {
	for _, want := range names {
		for _, h := range t.Headers {
			if strings.EqualFold(h, want) {
				return h, true
			}
		}
	}
	return "", false
}

// Append adds a row built from cells in header order.
func (t *Table) Append(cells []string) Row {
	r := Row{t: t, cells: append([]string(nil), cells...)}
	t.Rows = append(t.Rows, r)
	return r
}

// Truncate keeps at most n rows. n <= 0 keeps everything.
func (t *Table) Truncate(n int) {
	if n > 0 && n < len(t.Rows) {
		t.Rows = t.Rows[:n]
	}
}

// Get returns the trimmed value of column name, or "" when absent.
func (r Row) Get(name string) string {
	i, ok := r.t.index[name]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// Set stores value in column name, adding the column when needed. Row shares
// its cell slice with the table, so Set must go through the table's row.
func (t *Table) Set(rowIdx int, name, value string) {
	i := t.AddColumn(name)
	r := &t.Rows[rowIdx]
	for len(r.cells) <= i {
		r.cells = append(r.cells, "")
	}
	r.cells[i] = value
}

// Cells returns the row padded to the table width.
func (r Row) Cells() []string {
	out := make([]string, len(r.t.Headers))
	copy(out, r.cells)
	return out
}

// WriteCSV writes the header row followed by every row.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := cw.Write(r.Cells()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
