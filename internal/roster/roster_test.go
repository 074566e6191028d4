package roster

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	in := "\ufeffSchool,Address,Status\n" +
		"Alpha Elementary,\"1 Main St, Halifax NS\",Active\n" +
		",,\n" +
		"Beta School,2 Elm St,\n"

	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"School", "Address", "Status"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2, "blank rows are skipped")
	assert.Equal(t, "1 Main St, Halifax NS", tbl.Rows[0].Get(ColAddress))
	assert.Equal(t, "", tbl.Rows[1].Get(ColStatus))
	assert.Equal(t, "", tbl.Rows[1].Get("Missing"))
}

func TestReadCSVBlankAndRepeatedHeaders(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		headers []string
		want    map[string]string
	}{
		{
			name:    "blank headers",
			in:      "School,,Notes,,Address\nCitadel,x,n,y,1855 Trollope St\n",
			headers: []string{"School", "Unnamed: 1", "Notes", "Unnamed: 3", "Address"},
			want:    map[string]string{"Address": "1855 Trollope St", "Notes": "n", "Unnamed: 3": "y"},
		},
		{
			name:    "repeated headers",
			in:      "School,Phone,Phone,Address\nCitadel,111,222,1855 Trollope St\n",
			headers: []string{"School", "Phone", "Phone.1", "Address"},
			want:    map[string]string{"Address": "1855 Trollope St", "Phone": "111", "Phone.1": "222"},
		},
		{
			name:    "suffix already taken",
			in:      "A,A.1,A\n1,2,3\n",
			headers: []string{"A", "A.1", "A.2"},
			want:    map[string]string{"A": "1", "A.1": "2", "A.2": "3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ReadCSV(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.headers, tbl.Headers)
			require.Len(t, tbl.Rows, 1)
			for col, v := range tt.want {
				assert.Equal(t, v, tbl.Rows[0].Get(col), col)
			}

			var buf bytes.Buffer
			require.NoError(t, tbl.WriteCSV(&buf))
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			assert.Equal(t, strings.Split(strings.TrimSpace(tt.in), "\n")[1], lines[1], "snapshot keeps cell order")
		})
	}
}

func TestLoadWorkbookBlankHeader(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"HRCE": {
			{"School", nil, "Address"},
			{"Citadel High", "junk", "1855 Trollope St, Halifax"},
		},
	}, []string{"HRCE"})

	tbl, err := Load(path, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "1855 Trollope St, Halifax", tbl.Rows[0].Get(ColAddress))
	assert.Equal(t, "junk", tbl.Rows[0].Get("Unnamed: 1"))
	assert.Equal(t, "HRCE", tbl.Rows[0].Get("District"))
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoData)
}

func writeWorkbook(t *testing.T, sheets map[string][][]any, order []string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	path := filepath.Join(t.TempDir(), "schools.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadWorkbook(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"HRCE": {
			{"School", "Address", "Phone"},
			{"Alpha Elementary", "1 Main St, Halifax", "902-555-0100"},
			{"Beta Elementary", "2 Elm St, Dartmouth", ""},
		},
		"Empty": {},
		"AVRCE": {
			{"Schools in the valley"},
			{"School", "Address", "District"},
			{"Gamma School", "3 Oak Ave, Wolfville", "Annapolis Valley"},
		},
	}, []string{"HRCE", "Empty", "AVRCE"})

	tbl, err := Load(path, LoadOptions{})
	require.NoError(t, err)

	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, []string{"School", "Address", "Phone", "District"}, tbl.Headers)
	assert.Equal(t, "HRCE", tbl.Rows[0].Get("District"), "sheet name fills District")
	assert.Equal(t, "902-555-0100", tbl.Rows[0].Get("Phone"))
	assert.Equal(t, "Gamma School", tbl.Rows[2].Get(ColSchool))
	assert.Equal(t, "Annapolis Valley", tbl.Rows[2].Get("District"), "existing District kept")
}

func TestLoadWorkbookExplicitDistrict(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"Sheet": {
			{"School", "Address", "Board"},
			{"Alpha", "1 Main St", "CSAP"},
		},
	}, []string{"Sheet"})

	tbl, err := Load(path, LoadOptions{DistrictColumn: "Board"})
	require.NoError(t, err)
	assert.False(t, tbl.Has("District"))
	assert.Equal(t, "Board", tbl.PickGroupColumn())
}

func TestLoadWorkbookNoData(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{"Only": {}}, []string{"Only"})
	_, err := Load(path, LoadOptions{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schools.CSV")
	require.NoError(t, os.WriteFile(path, []byte("School,Address\nA,1 Main St\n"), 0o644))

	tbl, err := Load(path, LoadOptions{})
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1)
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"current": StatusCurrent,
		" Active": StatusCurrent,
		"BOTH":    StatusCurrent,
		"recent":  StatusRecent,
		"":        StatusNone,
		"lapsed":  StatusNone,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeStatus(in), "input %q", in)
	}
}

func TestDeriveStatus(t *testing.T) {
	tbl := NewTable([]string{"School", "Status", "Current Work", "Recent Relationship"})
	tbl.Append([]string{"explicit", "recent", "yes", ""})
	tbl.Append([]string{"current flag", "", "Y", "yes"})
	tbl.Append([]string{"recent flag", "", "no", "1"})
	tbl.Append([]string{"nothing", "", "", ""})

	want := []string{StatusRecent, StatusCurrent, StatusRecent, StatusNone}
	for i, r := range tbl.Rows {
		assert.Equal(t, want[i], DeriveStatus(r), r.Get("School"))
	}

	tbl.ApplyStatus()
	for i, r := range tbl.Rows {
		assert.Equal(t, want[i], r.Get(ColStatus))
	}
}

func TestPickGroupColumn(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{"group wins", []string{"District", "Group"}, "Group"},
		{"board before district", []string{"District", "Board"}, "Board"},
		{"district fallback", []string{"School", "District"}, "District"},
		{"adds empty group", []string{"School"}, "Group"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewTable(tt.headers)
			assert.Equal(t, tt.want, tbl.PickGroupColumn())
			assert.True(t, tbl.Has(tt.want))
		})
	}
}

func TestTableSetAndWriteCSV(t *testing.T) {
	tbl := NewTable([]string{"School", "Address"})
	tbl.Append([]string{"Alpha", "1 Main St, Halifax"})
	tbl.Set(0, ColLat, "44.6")

	name, ok := tbl.Lookup("LAT", "latitude")
	require.True(t, ok)
	assert.Equal(t, ColLat, name)

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	assert.Equal(t, "School,Address,lat\nAlpha,\"1 Main St, Halifax\",44.6\n", buf.String())
}
