package service

import (
	"context"
	"fmt"
	"strings"

	"bookingsys/internal/domain"
	"bookingsys/internal/models"

	"github.com/rs/zerolog"
)

type UserService struct {
	repo   domain.UserRepository
	logger *zerolog.Logger
}

func NewUserService(repo domain.UserRepository, logger *zerolog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		logger: logger,
	}
}

func (s *UserService) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *UserService) GetAllUsers(ctx context.Context, p models.Principal) ([]*models.User, error) {
	if err := requireAdmin(p, "list users"); err != nil {
		return nil, err
	}
	return s.repo.GetAllUsers(ctx)
}

func (s *UserService) RegisterUser(ctx context.Context, u *models.User, p models.Principal) error {
	if err := requireAdmin(p, "register user"); err != nil {
		return err
	}
	u.Login = strings.TrimSpace(u.Login)
	if u.Login == "" {
		return fmt.Errorf("%w: login is required", domain.ErrValidation)
	}
	if _, err := s.repo.GetUserByLogin(ctx, u.Login); err == nil {
		return fmt.Errorf("%w: login %q is taken", domain.ErrValidation, u.Login)
	}
	u.ID = 0
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", u.ID).Str("login", u.Login).Msg("user registered")
	return nil
}

// SeedUsers upserts the configured users so their ids match the API keys
// that reference them.
func (s *UserService) SeedUsers(ctx context.Context, users []models.User) error {
	for i := range users {
		u := users[i]
		if err := s.repo.UpsertUser(ctx, &u); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", users[i].Login, err)
		}
		if users[i].ID != 0 && u.ID != users[i].ID {
			s.logger.Warn().
				Str("login", u.Login).
				Int64("configured_id", users[i].ID).
				Int64("stored_id", u.ID).
				Msg("seeded user keeps its stored id")
		}
	}
	s.logger.Info().Int("count", len(users)).Msg("users seeded")
	return nil
}
