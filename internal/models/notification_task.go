package models

import "time"

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusRetry      = "retry"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// NotificationTask is an outbox row: one message to deliver for one event.
type NotificationTask struct {
	ID            int64      `json:"id"`
	EventType     string     `json:"event_type"`
	AppointmentID int64      `json:"appointment_id"`
	UserID        int64      `json:"user_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
