package models

import "strings"

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// appointmentSortFields maps API sort keys to column names.
var appointmentSortFields = map[string]string{
	"id":         "id",
	"start_time": "start_time",
	"end_time":   "end_time",
	"status":     "status",
	"created_at": "created_at",
}

type PageRequest struct {
	Page      int           `json:"page"`
	Size      int           `json:"size"`
	SortField string        `json:"sort"`
	Direction SortDirection `json:"direction"`
}

// Normalize clamps the request into a valid page and falls back to
// start_time ascending for unknown sort keys.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	p.SortField = strings.ToLower(strings.TrimSpace(p.SortField))
	if _, ok := appointmentSortFields[p.SortField]; !ok {
		p.SortField = "start_time"
	}
	if SortDirection(strings.ToLower(string(p.Direction))) == SortDesc {
		p.Direction = SortDesc
	} else {
		p.Direction = SortAsc
	}
	return p
}

func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// OrderBy returns a safe ORDER BY clause body for the normalized request.
func (p PageRequest) OrderBy() string {
	n := p.Normalize()
	return appointmentSortFields[n.SortField] + " " + strings.ToUpper(string(n.Direction)) + ", id ASC"
}

// ParseSort splits "field,dir" as used by the list endpoints.
func ParseSort(raw string) (string, SortDirection) {
	field, dir, _ := strings.Cut(raw, ",")
	if strings.EqualFold(strings.TrimSpace(dir), string(SortDesc)) {
		return strings.TrimSpace(field), SortDesc
	}
	return strings.TrimSpace(field), SortAsc
}

type AppointmentPage struct {
	Items []*Appointment `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}
