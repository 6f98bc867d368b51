package database

import (
	"context"
	"errors"
	"fmt"

	"bookingsys/internal/domain"
	"bookingsys/internal/models"
)

const userColumns = `id, login, first_name, last_name, email, telegram_chat_id, is_admin, created_at, updated_at`

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (
				login, first_name, last_name, email, telegram_chat_id, is_admin, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	ts := now()
	result, err := db.ExecContext(ctx, query,
		user.Login,
		user.FirstName,
		user.LastName,
		user.Email,
		user.TelegramChatID,
		user.IsAdmin,
		formatTime(ts),
		formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	user.ID = id
	user.CreatedAt = ts
	user.UpdatedAt = ts
	return nil
}

// UpsertUser inserts the user or refreshes the profile of the row with the
// same login. A non-zero ID is honoured on insert so seeded ids stay stable.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	existing, err := db.GetUserByLogin(ctx, user.Login)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		query := `INSERT INTO users (
				id, login, first_name, last_name, email, telegram_chat_id, is_admin, created_at, updated_at
			) VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?)`
		ts := formatTime(now())
		_, err = db.ExecContext(ctx, query,
			user.ID, user.Login, user.FirstName, user.LastName, user.Email,
			user.TelegramChatID, user.IsAdmin, ts, ts,
		)
	case err != nil:
		return err
	default:
		_, err = db.ExecContext(ctx, `UPDATE users
			  SET first_name = ?, last_name = ?, email = ?, telegram_chat_id = ?, is_admin = ?, updated_at = ?
			  WHERE id = ?`,
			user.FirstName, user.LastName, user.Email, user.TelegramChatID, user.IsAdmin,
			formatTime(now()), existing.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	stored, err := db.GetUserByLogin(ctx, user.Login)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := db.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, notFound("user", id, err)
	}
	return user, nil
}

func (db *DB) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	user, err := db.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE login = ?`, login)
	if err != nil {
		return nil, notFound("user", 0, err)
	}
	return user, nil
}

func (db *DB) queryUser(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	return scanUser(db.QueryRowContext(ctx, query, args...))
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user                 models.User
		createdAt, updatedAt string
	)
	err := row.Scan(
		&user.ID, &user.Login, &user.FirstName, &user.LastName, &user.Email,
		&user.TelegramChatID, &user.IsAdmin, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DB) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
