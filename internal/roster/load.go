package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoData is returned when an input has no usable rows.
var ErrNoData = errors.New("roster: no data rows")

// LoadOptions tunes workbook loading.
type LoadOptions struct {
	// DistrictColumn names an explicit district column. When empty and a sheet
	// has no "District" column, the sheet name is used as the district.
	DistrictColumn string
}

// Load reads a .csv file or an Excel workbook, chosen by extension.
func Load(path string, opts LoadOptions) (*Table, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(f)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f, opts)
}

// ReadCSV reads a CSV stream whose first record is the header row.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoData
	}

	headers := records[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	t := NewTable(headers)
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		t.Append(rec)
	}
	return t, nil
}

// ReadWorkbook reads every sheet of an uploaded workbook.
func ReadWorkbook(r io.Reader, opts LoadOptions) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(f, opts)
}

func readWorkbook(f *excelize.File, opts LoadOptions) (*Table, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("roster: no sheets found in workbook")
	}

	out := NewTable(nil)
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		hdr := findHeaderRow(rows)
		if hdr < 0 {
			continue
		}
		headers := rows[hdr]
		data := make([][]string, 0, len(rows)-hdr-1)
		for _, r := range rows[hdr+1:] {
			if !isBlank(r) {
				data = append(data, r)
			}
		}
		if len(data) == 0 {
			continue
		}

		sheetTable := NewTable(headers)
		fillDistrict := opts.DistrictColumn == "" && !sheetTable.Has("District")
		for _, r := range data {
			sheetTable.Append(r)
		}
		if fillDistrict {
			for i := range sheetTable.Rows {
				sheetTable.Set(i, "District", sheet)
			}
		}
		out.merge(sheetTable)
	}

	if len(out.Rows) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// merge appends other's rows, mapping columns by header name.
func (t *Table) merge(other *Table) {
	pos := make([]int, len(other.Headers))
	for i, h := range other.Headers {
		pos[i] = t.AddColumn(h)
	}
	for _, r := range other.Rows {
		cells := make([]string, len(t.Headers))
		for i, v := range r.Cells() {
			cells[pos[i]] = v
		}
		t.Append(cells)
	}
}

// findHeaderRow returns the first row with at least two non-empty cells, or
// the first non-empty row for single-column sheets.
func findHeaderRow(rows [][]string) int {
	first := -1
	for i, r := range rows {
		n := 0
		for _, c := range r {
			if strings.TrimSpace(c) != "" {
				n++
			}
		}
		if n >= 2 {
			return i
		}
		if n == 1 && first < 0 {
			first = i
		}
	}
	return first
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
