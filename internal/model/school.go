package model

import "time"

// SchoolStatus is the business relationship with a school.
type SchoolStatus string

const (
	SchoolStatusNone    SchoolStatus = "none"
	SchoolStatusRecent  SchoolStatus = "recent"
	SchoolStatusCurrent SchoolStatus = "current"
)

// School is one CRM record.
type School struct {
	ID        int          `json:"id"`
	Name      string       `json:"name"`
	Address   string       `json:"address"`
	Phone     string       `json:"phone"`
	Email     string       `json:"email"`
	Status    SchoolStatus `json:"status"`
	Group     string       `json:"group"`
	Notes     string       `json:"notes"`
	Lat       *float64     `json:"lat"`
	Lon       *float64     `json:"lon"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// HasCoordinates reports whether both lat and lon are set.
func (s *School) HasCoordinates() bool {
	return s.Lat != nil && s.Lon != nil
}

// SchoolFilter narrows a school listing. Zero values match everything.
type SchoolFilter struct {
	Status SchoolStatus
	Group  string
	Query  string
}
