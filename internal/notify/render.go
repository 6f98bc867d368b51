package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bookingsys/internal/events"
)

const timeLayout = "02.01.2006 15:04"

// RenderMessage turns an appointment event into a subject and a plain text body.
func RenderMessage(eventType string, raw []byte, loc *time.Location) (string, string, error) {
	var p events.AppointmentEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", "", fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	var subject string
	switch eventType {
	case events.EventAppointmentRequested:
		subject = "Appointment requested"
	case events.EventAppointmentScheduled:
		subject = "Appointment scheduled"
	case events.EventAppointmentApproved:
		subject = "Appointment confirmed"
	case events.EventAppointmentRejected:
		subject = "Appointment declined"
	case events.EventAppointmentCancelled:
		subject = "Appointment cancelled"
	case events.EventAppointmentCompleted:
		subject = "Appointment completed"
	case events.EventAppointmentUpdated:
		subject = "Appointment changed"
	case events.EventAppointmentDeleted:
		subject = "Appointment removed"
	default:
		return "", "", fmt.Errorf("unknown event type %q", eventType)
	}

	var b strings.Builder
	if p.UserName != "" {
		fmt.Fprintf(&b, "Hello, %s!\n", p.UserName)
	}
	fmt.Fprintf(&b, "Appointment #%d\n", p.AppointmentID)
	fmt.Fprintf(&b, "When: %s - %s\n", p.StartTime.In(loc).Format(timeLayout), p.EndTime.In(loc).Format("15:04"))
	if p.ServiceName != "" {
		fmt.Fprintf(&b, "Service: %s\n", p.ServiceName)
	}
	fmt.Fprintf(&b, "Status: %s", p.Status)
	if p.PrevStatus != "" && p.PrevStatus != p.Status {
		fmt.Fprintf(&b, " (was %s)", p.PrevStatus)
	}
	if p.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", p.Reason)
	}
	return subject, b.String(), nil
}
