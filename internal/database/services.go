package database

import (
	"context"
	"fmt"

	"bookingsys/internal/domain"
	"bookingsys/internal/models"
)

const serviceColumns = `id, name, description, price_cents, created_at, updated_at`

func scanService(row rowScanner) (*models.Service, error) {
	var (
		s                    models.Service
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.PriceCents, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) CreateService(ctx context.Context, s *models.Service) error {
	query := `INSERT INTO services (name, description, price_cents, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?)`
	ts := now()
	result, err := db.ExecContext(ctx, query, s.Name, s.Description, s.PriceCents, formatTime(ts), formatTime(ts))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	s.ID = id
	s.CreatedAt = ts
	s.UpdatedAt = ts
	return nil
}

func (db *DB) GetService(ctx context.Context, id int64) (*models.Service, error) {
	s, err := scanService(db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("service", id, err)
	}
	return s, nil
}

func (db *DB) UpdateService(ctx context.Context, s *models.Service) error {
	ts := now()
	result, err := db.ExecContext(ctx,
		`UPDATE services SET name = ?, description = ?, price_cents = ?, updated_at = ? WHERE id = ?`,
		s.Name, s.Description, s.PriceCents, formatTime(ts), s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: service %d", domain.ErrNotFound, s.ID)
	}
	s.UpdatedAt = ts
	return nil
}

func (db *DB) ListServices(ctx context.Context) ([]*models.Service, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	services := []*models.Service{}
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (db *DB) DeleteService(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: service %d", domain.ErrNotFound, id)
	}
	return nil
}

func (db *DB) CountAppointmentsForService(ctx context.Context, id int64) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM appointments WHERE service_id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count appointments for service: %w", err)
	}
	return count, nil
}
