package roster

import "strings"

// Relationship status of a school with the business.
const (
	StatusNone    = "none"
	StatusRecent  = "recent"
	StatusCurrent = "current"
)

// Well-known column names.
const (
	ColSchool  = "School"
	ColAddress = "Address"
	ColGroup   = "Group"
	ColStatus  = "Status"
	ColLat     = "lat"
	ColLon     = "lon"

	colRecent  = "Recent Relationship"
	colCurrent = "Current Work"
)

// GroupCandidates are checked in order by PickGroupColumn.
var GroupCandidates = []string{"Group", "Board", "System", "District"}

// NormalizeStatus maps legacy and free-form values onto the three statuses.
func NormalizeStatus(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "current", "active", "both":
		return StatusCurrent
	case "recent":
		return StatusRecent
	default:
		return StatusNone
	}
}

// DeriveStatus uses the Status column when filled, else the legacy
// "Current Work" / "Recent Relationship" flag columns.
func DeriveStatus(r Row) string {
	if raw := r.Get(ColStatus); raw != "" {
		return NormalizeStatus(raw)
	}
	if truthy(r.Get(colCurrent)) {
		return StatusCurrent
	}
	if truthy(r.Get(colRecent)) {
		return StatusRecent
	}
	return StatusNone
}

// ApplyStatus writes DeriveStatus into the Status column of every row.
func (t *Table) ApplyStatus() {
	for i, r := range t.Rows {
		t.Set(i, ColStatus, DeriveStatus(r))
	}
}

// PickGroupColumn returns the first present group-like column, adding an
// empty Group column when none exists.
func (t *Table) PickGroupColumn() string {
	for _, c := range GroupCandidates {
		if t.Has(c) {
			return c
		}
	}
	t.AddColumn(ColGroup)
	return ColGroup
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}
