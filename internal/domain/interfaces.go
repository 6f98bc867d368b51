package domain

import (
	"context"
	"time"

	"bookingsys/internal/models"
)

// AppointmentRepository is the storage collaborator of the lifecycle manager.
type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id int64) (*models.Appointment, error)
	CreateAppointment(ctx context.Context, a *models.Appointment) error
	CreateAppointmentWithOverlapCheck(ctx context.Context, a *models.Appointment) error
	UpdateAppointmentWithVersion(ctx context.Context, a *models.Appointment, fromVersion int64) error
	UpdateAppointmentStatusWithVersion(ctx context.Context, id, fromVersion int64, status models.AppointmentStatus, cancelReason string) error
	UpdateAppointmentWithOverlapCheck(ctx context.Context, a *models.Appointment, fromVersion int64) error
	ListAppointments(ctx context.Context, page models.PageRequest, userID int64) ([]*models.Appointment, int64, error)
	ListAppointmentsBetween(ctx context.Context, from, to time.Time) ([]*models.Appointment, error)
	DeleteAppointment(ctx context.Context, id int64) error
}

type ServiceRepository interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
	CreateService(ctx context.Context, s *models.Service) error
	UpdateService(ctx context.Context, s *models.Service) error
	ListServices(ctx context.Context) ([]*models.Service, error)
	DeleteService(ctx context.Context, id int64) error
	CountAppointmentsForService(ctx context.Context, serviceID int64) (int, error)
}

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	UpsertUser(ctx context.Context, u *models.User) error
	GetAllUsers(ctx context.Context) ([]*models.User, error)
}

type NotificationStore interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	ClaimNotificationTask(ctx context.Context, id int64, lease time.Duration) (bool, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Locker scopes a per-key critical section. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Clock supplies "now" so the cancellation window is testable.
type Clock interface {
	Now() time.Time
}

// Notifier delivers a rendered message to one user.
type Notifier interface {
	Channel() string
	Notify(ctx context.Context, user *models.User, subject, body string) error
}

type AppointmentService interface {
	Approve(ctx context.Context, id int64, p models.Principal) (*models.Appointment, error)
	Reject(ctx context.Context, id int64, p models.Principal) (*models.Appointment, error)
	Complete(ctx context.Context, id int64, p models.Principal) (*models.Appointment, error)
	Cancel(ctx context.Context, id int64, p models.Principal, reason string) (*models.Appointment, error)
	Create(ctx context.Context, draft models.AppointmentDraft, p models.Principal) (*models.Appointment, error)
	Edit(ctx context.Context, id int64, patch models.AppointmentPatch, p models.Principal) (*models.Appointment, error)
	Get(ctx context.Context, id int64, p models.Principal) (*models.Appointment, error)
	List(ctx context.Context, p models.Principal, page models.PageRequest) (*models.AppointmentPage, error)
	Delete(ctx context.Context, id int64, p models.Principal) error
	ListBetween(ctx context.Context, from, to time.Time, p models.Principal) ([]*models.Appointment, error)
}

type CatalogService interface {
	CreateService(ctx context.Context, s *models.Service, p models.Principal) error
	GetService(ctx context.Context, id int64) (*models.Service, error)
	UpdateService(ctx context.Context, id int64, patch models.ServicePatch, p models.Principal) (*models.Service, error)
	ListServices(ctx context.Context) ([]*models.Service, error)
	DeleteService(ctx context.Context, id int64, p models.Principal) error
}

type UserService interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetAllUsers(ctx context.Context, p models.Principal) ([]*models.User, error)
	RegisterUser(ctx context.Context, u *models.User, p models.Principal) error
	SeedUsers(ctx context.Context, users []models.User) error
}
