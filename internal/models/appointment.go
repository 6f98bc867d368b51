package models

import (
	"fmt"
	"strings"
	"time"
)

// AppointmentStatus is the closed set of lifecycle states.
type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "REQUESTED"
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

var allStatuses = []AppointmentStatus{StatusRequested, StatusScheduled, StatusCompleted, StatusCancelled}

// ParseAppointmentStatus accepts any letter case.
func ParseAppointmentStatus(raw string) (AppointmentStatus, error) {
	s := AppointmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown appointment status %q", raw)
	}
	return s, nil
}

func (s AppointmentStatus) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave the status.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s AppointmentStatus) String() string {
	return string(s)
}

func (s *AppointmentStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseAppointmentStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Appointment struct {
	ID           int64             `json:"id"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Status       AppointmentStatus `json:"status"`
	SpecialNeeds string            `json:"special_needs,omitempty"`
	UserID       int64             `json:"user_id"`
	ServiceID    *int64            `json:"service_id,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Version      int64             `json:"version"`
}

// CanBeCancelledBy reports whether a non-admin owner is still outside the
// cancellation window at the given instant.
func (a *Appointment) CanBeCancelledBy(now time.Time, window time.Duration) bool {
	return a.StartTime.Sub(now) > window
}

// Overlaps uses half-open intervals: back-to-back slots do not collide.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

// AppointmentDraft is the input of Create. Zero UserID means "the caller".
type AppointmentDraft struct {
	StartTime    time.Time          `json:"start_time"`
	EndTime      time.Time          `json:"end_time"`
	SpecialNeeds string             `json:"special_needs,omitempty"`
	UserID       int64              `json:"user_id,omitempty"`
	ServiceID    *int64             `json:"service_id,omitempty"`
	Status       *AppointmentStatus `json:"status,omitempty"`
}

// AppointmentPatch carries the fields an Edit may touch. Nil means unchanged.
type AppointmentPatch struct {
	StartTime    *time.Time         `json:"start_time,omitempty"`
	EndTime      *time.Time         `json:"end_time,omitempty"`
	SpecialNeeds *string            `json:"special_needs,omitempty"`
	UserID       *int64             `json:"user_id,omitempty"`
	ServiceID    *int64             `json:"service_id,omitempty"`
	ClearService bool               `json:"clear_service,omitempty"`
	Status       *AppointmentStatus `json:"status,omitempty"`
	Version      *int64             `json:"version,omitempty"`
}

// Apply returns a copy of a with the patch fields merged in. Status is left
// untouched; callers decide whether a status change is allowed.
func (p AppointmentPatch) Apply(a Appointment) Appointment {
	if p.StartTime != nil {
		a.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		a.EndTime = *p.EndTime
	}
	if p.SpecialNeeds != nil {
		a.SpecialNeeds = *p.SpecialNeeds
	}
	if p.UserID != nil {
		a.UserID = *p.UserID
	}
	if p.ClearService {
		a.ServiceID = nil
	} else if p.ServiceID != nil {
		id := *p.ServiceID
		a.ServiceID = &id
	}
	return a
}

// TimesChanged reports whether the patch moves the slot.
func (p AppointmentPatch) TimesChanged(a Appointment) bool {
	if p.StartTime != nil && !p.StartTime.Equal(a.StartTime) {
		return true
	}
	return p.EndTime != nil && !p.EndTime.Equal(a.EndTime)
}
