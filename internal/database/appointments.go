package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bookingsys/internal/domain"
	"bookingsys/internal/models"
)

const appointmentColumns = `id, start_time, end_time, status, special_needs, user_id, service_id,
	cancel_reason, cancelled_at, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a                    models.Appointment
		start, end           string
		status               string
		serviceID            sql.NullInt64
		cancelledAt          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&a.ID, &start, &end, &status, &a.SpecialNeeds, &a.UserID, &serviceID,
		&a.CancelReason, &cancelledAt, &createdAt, &updatedAt, &a.Version,
	)
	if err != nil {
		return nil, err
	}

	a.Status = models.AppointmentStatus(status)
	if serviceID.Valid {
		id := serviceID.Int64
		a.ServiceID = &id
	}
	if a.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if a.EndTime, err = parseTime(end); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.CancelledAt, err = parseNullableTime(cancelledAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertAppointment(ctx context.Context, ex execer, a *models.Appointment) error {
	query := `INSERT INTO appointments (
				start_time, end_time, status, special_needs, user_id, service_id,
				cancel_reason, cancelled_at, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	ts := now()
	result, err := ex.ExecContext(ctx, query,
		formatTime(a.StartTime),
		formatTime(a.EndTime),
		string(a.Status),
		a.SpecialNeeds,
		a.UserID,
		nullableID(a.ServiceID),
		a.CancelReason,
		formatNullableTime(a.CancelledAt),
		formatTime(ts),
		formatTime(ts),
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	a.CreatedAt = ts
	a.UpdatedAt = ts
	a.Version = 1
	return nil
}

func (db *DB) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	return insertAppointment(ctx, db, a)
}

// CreateAppointmentWithOverlapCheck inserts the appointment only if no live
// appointment overlaps its slot. Both steps share one transaction.
func (db *DB) CreateAppointmentWithOverlapCheck(ctx context.Context, a *models.Appointment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	overlap, err := hasOverlap(ctx, tx, a.StartTime, a.EndTime, 0)
	if err != nil {
		return err
	}
	if overlap {
		return domain.ErrSlotUnavailable
	}

	if err := insertAppointment(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

const overlapQuery = `SELECT COUNT(*) FROM appointments
	WHERE start_time < ? AND end_time > ? AND status != ? AND id != ?`

func (db *DB) HasOverlap(ctx context.Context, start, end time.Time, excludeID int64) (bool, error) {
	return hasOverlap(ctx, db, start, end, excludeID)
}

func hasOverlap(ctx context.Context, q querier, start, end time.Time, excludeID int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, overlapQuery, formatTime(end), formatTime(start), string(models.StatusCancelled), excludeID).
		Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check overlap: %w", err)
	}
	return count > 0, nil
}

func (db *DB) GetAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = ?`
	a, err := scanAppointment(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound("appointment", id, err)
	}
	return a, nil
}

// UpdateAppointmentWithVersion replaces every editable field if the stored
// version still equals fromVersion.
func (db *DB) UpdateAppointmentWithVersion(ctx context.Context, a *models.Appointment, fromVersion int64) error {
	return updateAppointment(ctx, db, a, fromVersion)
}

// UpdateAppointmentWithOverlapCheck is UpdateAppointmentWithVersion guarded by
// the overlap check, both inside one transaction. The appointment never
// collides with itself.
func (db *DB) UpdateAppointmentWithOverlapCheck(ctx context.Context, a *models.Appointment, fromVersion int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	overlap, err := hasOverlap(ctx, tx, a.StartTime, a.EndTime, a.ID)
	if err != nil {
		return err
	}
	if overlap {
		return domain.ErrSlotUnavailable
	}

	version, updatedAt := a.Version, a.UpdatedAt
	if err := updateAppointment(ctx, tx, a, fromVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		a.Version, a.UpdatedAt = version, updatedAt
		return fmt.Errorf("failed to commit appointment update: %w", err)
	}
	return nil
}

func updateAppointment(ctx context.Context, q querier, a *models.Appointment, fromVersion int64) error {
	query := `UPDATE appointments
			  SET start_time = ?, end_time = ?, special_needs = ?, user_id = ?, service_id = ?,
			      version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ?`
	ts := now()
	result, err := q.ExecContext(ctx, query,
		formatTime(a.StartTime),
		formatTime(a.EndTime),
		a.SpecialNeeds,
		a.UserID,
		nullableID(a.ServiceID),
		formatTime(ts),
		a.ID,
		fromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return missOrConflict(ctx, q, a.ID)
	}
	a.Version = fromVersion + 1
	a.UpdatedAt = ts
	return nil
}

func (db *DB) UpdateAppointmentStatusWithVersion(
	ctx context.Context,
	id, fromVersion int64,
	status models.AppointmentStatus,
	cancelReason string,
) error {
	ts := now()
	var cancelledAt sql.NullString
	if status == models.StatusCancelled {
		cancelledAt = sql.NullString{String: formatTime(ts), Valid: true}
	}

	query := `UPDATE appointments
			  SET status = ?, cancel_reason = ?, cancelled_at = COALESCE(?, cancelled_at),
			      version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, string(status), cancelReason, cancelledAt, formatTime(ts), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update appointment status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return missOrConflict(ctx, db, id)
	}
	return nil
}

// missOrConflict tells a vanished row apart from a lost compare-and-swap.
func missOrConflict(ctx context.Context, q querier, id int64) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check appointment existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: appointment %d", domain.ErrNotFound, id)
	}
	return domain.ErrConcurrentModification
}

// ListAppointments returns one page and the total row count. userID > 0
// restricts the listing to that owner.
func (db *DB) ListAppointments(ctx context.Context, page models.PageRequest, userID int64) ([]*models.Appointment, int64, error) {
	page = page.Normalize()

	where := ""
	args := []any{}
	if userID > 0 {
		where = ` WHERE user_id = ?`
		args = append(args, userID)
	}

	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count appointments: %w", err)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments` + where +
		` ORDER BY ` + page.OrderBy() + ` LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer rows.Close()

	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListAppointmentsBetween returns appointments starting in [from, to).
func (db *DB) ListAppointmentsBetween(ctx context.Context, from, to time.Time) ([]*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
			  WHERE start_time >= ? AND start_time < ? ORDER BY start_time ASC, id ASC`
	rows, err := db.QueryContext(ctx, query, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to get appointments by range: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows *sql.Rows) ([]*models.Appointment, error) {
	items := []*models.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return items, nil
}

func (db *DB) DeleteAppointment(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: appointment %d", domain.ErrNotFound, id)
	}
	return nil
}
