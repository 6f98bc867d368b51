package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"bookingsys/internal/models"
)

const (
	EventAppointmentRequested = "appointment_requested"
	EventAppointmentScheduled = "appointment_scheduled"
	EventAppointmentApproved  = "appointment_approved"
	EventAppointmentRejected  = "appointment_rejected"
	EventAppointmentCancelled = "appointment_cancelled"
	EventAppointmentCompleted = "appointment_completed"
	EventAppointmentUpdated   = "appointment_updated"
	EventAppointmentDeleted   = "appointment_deleted"
)

// AppointmentEvents lists every event type the appointment lifecycle emits.
var AppointmentEvents = []string{
	EventAppointmentRequested,
	EventAppointmentScheduled,
	EventAppointmentApproved,
	EventAppointmentRejected,
	EventAppointmentCancelled,
	EventAppointmentCompleted,
	EventAppointmentUpdated,
	EventAppointmentDeleted,
}

// CreatedEventFor picks the creation event matching the initial status.
func CreatedEventFor(status models.AppointmentStatus) string {
	if status == models.StatusScheduled {
		return EventAppointmentScheduled
	}
	return EventAppointmentRequested
}

// AppointmentEventPayload is the appointment snapshot handed to consumers.
type AppointmentEventPayload struct {
	AppointmentID int64     `json:"appointment_id"`
	UserID        int64     `json:"user_id"`
	UserName      string    `json:"user_name,omitempty"`
	ServiceID     int64     `json:"service_id,omitempty"`
	ServiceName   string    `json:"service_name,omitempty"`
	Status        string    `json:"status"`
	PrevStatus    string    `json:"prev_status,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Reason        string    `json:"reason,omitempty"`
	ChangedByID   int64     `json:"changed_by_id,omitempty"`
	Version       int64     `json:"version"`
}

// NewAppointmentPayload snapshots a. prev may be empty for creations.
func NewAppointmentPayload(a *models.Appointment, prev models.AppointmentStatus, changedBy int64) AppointmentEventPayload {
	p := AppointmentEventPayload{
		AppointmentID: a.ID,
		UserID:        a.UserID,
		Status:        a.Status.String(),
		PrevStatus:    prev.String(),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Reason:        a.CancelReason,
		ChangedByID:   changedBy,
		Version:       a.Version,
	}
	if a.ServiceID != nil {
		p.ServiceID = *a.ServiceID
	}
	return p
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for each of eventTypes.
func (b *EventBus) SubscribeAll(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish runs the handlers of the event type synchronously, in subscription
// order. Every handler runs; their errors come back joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// PublishJSON marshals payload into an event and publishes it. A nil bus
// drops the event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(&event)
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
