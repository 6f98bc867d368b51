package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bookingsys/internal/models"
)

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	ts := now()
	result, err := db.ExecContext(ctx, `INSERT INTO notification_queue (
				event_type, appointment_id, user_id, payload, status, retry_count, created_at, next_retry_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.EventType,
		task.AppointmentID,
		task.UserID,
		task.Payload,
		task.Status,
		task.RetryCount,
		formatTime(ts),
		formatNullableTime(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = ts
	return nil
}

// GetPendingNotificationTasks returns pending tasks, retry tasks whose backoff
// has elapsed and processing tasks whose claim lease has expired, oldest first.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT id, event_type, appointment_id, user_id, payload, status,
	                 retry_count, last_error, created_at, processed_at, next_retry_at
			  FROM notification_queue
			  WHERE status IN (?, ?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
			  ORDER BY id ASC
			  LIMIT ?`,
		models.TaskStatusPending, models.TaskStatusRetry, models.TaskStatusProcessing, formatTime(now()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notification tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.NotificationTask{}
	for rows.Next() {
		var (
			task                     models.NotificationTask
			lastError                sql.NullString
			createdAt                string
			processedAt, nextRetryAt sql.NullString
		)
		if err := rows.Scan(
			&task.ID, &task.EventType, &task.AppointmentID, &task.UserID, &task.Payload, &task.Status,
			&task.RetryCount, &lastError, &createdAt, &processedAt, &nextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		if lastError.Valid {
			msg := lastError.String
			task.LastError = &msg
		}
		if task.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if task.ProcessedAt, err = parseNullableTime(processedAt); err != nil {
			return nil, err
		}
		if task.NextRetryAt, err = parseNullableTime(nextRetryAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimNotificationTask moves a deliverable task to processing and reports
// whether this caller won it. The lease is stored in next_retry_at: a claim
// that is never settled becomes claimable again once the lease runs out.
func (db *DB) ClaimNotificationTask(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	ts := now()
	result, err := db.ExecContext(ctx, `UPDATE notification_queue
			  SET status = ?, next_retry_at = ?
			  WHERE id = ?
			    AND (status = ?
			         OR (status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)))`,
		models.TaskStatusProcessing, formatTime(ts.Add(lease)), id,
		models.TaskStatusPending,
		models.TaskStatusRetry, models.TaskStatusProcessing, formatTime(ts),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim notification task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim notification task: %w", err)
	}
	return rows == 1, nil
}

// UpdateNotificationTaskStatus records the outcome of a delivery attempt.
// Retry and failed transitions bump retry_count.
func (db *DB) UpdateNotificationTaskStatus(
	ctx context.Context,
	id int64,
	status, errMsg string,
	nextRetryAt *time.Time,
) error {
	var lastError sql.NullString
	if errMsg != "" {
		lastError = sql.NullString{String: errMsg, Valid: true}
	}
	var processedAt sql.NullString
	if status == models.TaskStatusCompleted || status == models.TaskStatusFailed {
		processedAt = sql.NullString{String: formatTime(now()), Valid: true}
	}
	bump := 0
	if status == models.TaskStatusRetry || status == models.TaskStatusFailed {
		bump = 1
	}

	_, err := db.ExecContext(ctx, `UPDATE notification_queue
			  SET status = ?, last_error = ?, processed_at = ?, next_retry_at = ?, retry_count = retry_count + ?
			  WHERE id = ?`,
		status, lastError, processedAt, formatNullableTime(nextRetryAt), bump, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification task: %w", err)
	}
	return nil
}
