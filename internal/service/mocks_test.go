package service

import (
	"context"
	"time"

	"bookingsys/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockAppointmentRepo struct {
	mock.Mock
}

func (m *mockAppointmentRepo) GetAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	a := *args.Get(0).(*models.Appointment)
	return &a, args.Error(1)
}
func (m *mockAppointmentRepo) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	return m.Called(ctx, a).Error(0)
}
func (m *mockAppointmentRepo) CreateAppointmentWithOverlapCheck(ctx context.Context, a *models.Appointment) error {
	return m.Called(ctx, a).Error(0)
}
func (m *mockAppointmentRepo) UpdateAppointmentWithVersion(ctx context.Context, a *models.Appointment, v int64) error {
	return m.Called(ctx, a, v).Error(0)
}
func (m *mockAppointmentRepo) UpdateAppointmentStatusWithVersion(ctx context.Context, id, v int64, s models.AppointmentStatus, r string) error {
	return m.Called(ctx, id, v, s, r).Error(0)
}
func (m *mockAppointmentRepo) UpdateAppointmentWithOverlapCheck(ctx context.Context, a *models.Appointment, v int64) error {
	return m.Called(ctx, a, v).Error(0)
}
func (m *mockAppointmentRepo) ListAppointments(ctx context.Context, p models.PageRequest, u int64) ([]*models.Appointment, int64, error) {
	args := m.Called(ctx, p, u)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.Appointment), args.Get(1).(int64), args.Error(2)
}
func (m *mockAppointmentRepo) ListAppointmentsBetween(ctx context.Context, f, t time.Time) ([]*models.Appointment, error) {
	args := m.Called(ctx, f, t)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Appointment), args.Error(1)
}
func (m *mockAppointmentRepo) DeleteAppointment(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *mockUserRepo) GetUserByLogin(ctx context.Context, l string) (*models.User, error) {
	args := m.Called(ctx, l)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}
func (m *mockUserRepo) CreateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockUserRepo) UpsertUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}
func (m *mockUserRepo) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

type mockServiceRepo struct {
	mock.Mock
}

func (m *mockServiceRepo) GetService(ctx context.Context, id int64) (*models.Service, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}
func (m *mockServiceRepo) CreateService(ctx context.Context, s *models.Service) error {
	return m.Called(ctx, s).Error(0)
}
func (m *mockServiceRepo) UpdateService(ctx context.Context, s *models.Service) error {
	return m.Called(ctx, s).Error(0)
}
func (m *mockServiceRepo) ListServices(ctx context.Context) ([]*models.Service, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Service), args.Error(1)
}
func (m *mockServiceRepo) DeleteService(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockServiceRepo) CountAppointmentsForService(ctx context.Context, id int64) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }
