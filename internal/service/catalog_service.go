package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bookingsys/internal/domain"
	"bookingsys/internal/models"

	"github.com/rs/zerolog"
)

// CatalogService manages bookable services and keeps a read-through cache of
// the catalog for lookups on the hot path.
type CatalogService struct {
	repo   domain.ServiceRepository
	logger *zerolog.Logger

	mu       sync.RWMutex
	services map[int64]models.Service
	loaded   bool
}

func NewCatalogService(repo domain.ServiceRepository, logger *zerolog.Logger) *CatalogService {
	return &CatalogService{
		repo:     repo,
		logger:   logger,
		services: make(map[int64]models.Service),
	}
}

func validateService(s *models.Service) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return fmt.Errorf("%w: service name is required", domain.ErrValidation)
	}
	if s.PriceCents < 0 {
		return fmt.Errorf("%w: service price must not be negative", domain.ErrValidation)
	}
	return nil
}

func (c *CatalogService) CreateService(ctx context.Context, s *models.Service, p models.Principal) error {
	if err := requireAdmin(p, "create service"); err != nil {
		return err
	}
	if err := validateService(s); err != nil {
		return err
	}
	if err := c.repo.CreateService(ctx, s); err != nil {
		return err
	}
	c.logger.Info().Int64("service_id", s.ID).Str("name", s.Name).Msg("service created")
	return c.Refresh(ctx)
}

func (c *CatalogService) GetService(ctx context.Context, id int64) (*models.Service, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	s, ok := c.services[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: service %d", domain.ErrNotFound, id)
	}
	return &s, nil
}

func (c *CatalogService) UpdateService(ctx context.Context, id int64, patch models.ServicePatch, p models.Principal) (*models.Service, error) {
	if err := requireAdmin(p, "update service"); err != nil {
		return nil, err
	}
	current, err := c.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := patch.Apply(*current)
	if err := validateService(&updated); err != nil {
		return nil, err
	}
	if err := c.repo.UpdateService(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, c.Refresh(ctx)
}

func (c *CatalogService) ListServices(ctx context.Context) ([]*models.Service, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	list := make([]*models.Service, 0, len(c.services))
	for _, s := range c.services {
		s := s
		list = append(list, &s)
	}
	c.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// DeleteService refuses to remove a service that appointments still reference.
func (c *CatalogService) DeleteService(ctx context.Context, id int64, p models.Principal) error {
	if err := requireAdmin(p, "delete service"); err != nil {
		return err
	}
	refs, err := c.repo.CountAppointmentsForService(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: service %d is referenced by %d appointments", domain.ErrValidation, id, refs)
	}
	if err := c.repo.DeleteService(ctx, id); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// SeedServices makes sure every configured service exists, matching by name.
func (c *CatalogService) SeedServices(ctx context.Context, seed []models.Service) error {
	existing, err := c.repo.ListServices(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*models.Service, len(existing))
	for _, s := range existing {
		byName[s.Name] = s
	}

	for i := range seed {
		s := seed[i]
		if err := validateService(&s); err != nil {
			return err
		}
		if current, ok := byName[s.Name]; ok {
			s.ID = current.ID
			if err := c.repo.UpdateService(ctx, &s); err != nil {
				return err
			}
			continue
		}
		if err := c.repo.CreateService(ctx, &s); err != nil {
			return err
		}
	}
	return c.Refresh(ctx)
}

func (c *CatalogService) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Refresh(ctx)
}

func (c *CatalogService) Refresh(ctx context.Context) error {
	list, err := c.repo.ListServices(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[int64]models.Service, len(list))
	for _, s := range list {
		c.services[s.ID] = *s
	}
	c.loaded = true
	return nil
}
