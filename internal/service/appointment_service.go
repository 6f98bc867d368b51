package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookingsys/internal/domain"
	"bookingsys/internal/events"
	"bookingsys/internal/metrics"
	"bookingsys/internal/models"

	"github.com/rs/zerolog"
)

// AppointmentOptions tunes the lifecycle policy.
type AppointmentOptions struct {
	CancellationWindow time.Duration
	PreventOverlap     bool
}

// AppointmentService owns the appointment state machine. Every mutation runs
// as lock -> read -> validate -> compare-and-swap on the row version.
type AppointmentService struct {
	repo     domain.AppointmentRepository
	users    domain.UserRepository
	services domain.ServiceRepository
	locker   domain.Locker
	eventBus domain.EventPublisher
	clock    domain.Clock
	opts     AppointmentOptions
	logger   *zerolog.Logger
}

func NewAppointmentService(
	repo domain.AppointmentRepository,
	users domain.UserRepository,
	services domain.ServiceRepository,
	locker domain.Locker,
	eventBus domain.EventPublisher,
	clock domain.Clock,
	opts AppointmentOptions,
	logger *zerolog.Logger,
) *AppointmentService {
	if clock == nil {
		clock = SystemClock{}
	}
	if opts.CancellationWindow <= 0 {
		opts.CancellationWindow = models.DefaultCancellationWindow
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AppointmentService{
		repo:     repo,
		users:    users,
		services: services,
		locker:   locker,
		eventBus: eventBus,
		clock:    clock,
		opts:     opts,
		logger:   logger,
	}
}

// transition describes one status-changing operation.
type transition struct {
	op    string
	from  []models.AppointmentStatus
	to    models.AppointmentStatus
	event string
	// authorize runs on the loaded record before any state check.
	authorize func(a *models.Appointment) error
	// guard runs after the state check.
	guard func(a *models.Appointment) error
}

func (t transition) allowedFrom(s models.AppointmentStatus) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

func (s *AppointmentService) Approve(ctx context.Context, id int64, p models.Principal) (a *models.Appointment, err error) {
	defer s.observe("approve", id, p, &err)
	if err := requireAdmin(p, "approve"); err != nil {
		return nil, err
	}
	return s.apply(ctx, id, p, transition{
		op:    "approve",
		from:  []models.AppointmentStatus{models.StatusRequested},
		to:    models.StatusScheduled,
		event: events.EventAppointmentApproved,
	}, "")
}

func (s *AppointmentService) Reject(ctx context.Context, id int64, p models.Principal) (a *models.Appointment, err error) {
	defer s.observe("reject", id, p, &err)
	if err := requireAdmin(p, "reject"); err != nil {
		return nil, err
	}
	return s.apply(ctx, id, p, transition{
		op:    "reject",
		from:  []models.AppointmentStatus{models.StatusRequested},
		to:    models.StatusCancelled,
		event: events.EventAppointmentRejected,
	}, "")
}

func (s *AppointmentService) Complete(ctx context.Context, id int64, p models.Principal) (a *models.Appointment, err error) {
	defer s.observe("complete", id, p, &err)
	if err := requireAdmin(p, "complete"); err != nil {
		return nil, err
	}
	return s.apply(ctx, id, p, transition{
		op:    "complete",
		from:  []models.AppointmentStatus{models.StatusScheduled},
		to:    models.StatusCompleted,
		event: events.EventAppointmentCompleted,
	}, "")
}

// Cancel is open to admins at any time and to the owner while the start is
// more than the cancellation window away. The window is evaluated against
// the clock at the moment the lock is held.
func (s *AppointmentService) Cancel(ctx context.Context, id int64, p models.Principal, reason string) (a *models.Appointment, err error) {
	defer s.observe("cancel", id, p, &err)
	if !p.IsAuthenticated() {
		return nil, fmt.Errorf("%w: cancel requires an authenticated principal", domain.ErrUnauthorized)
	}
	return s.apply(ctx, id, p, transition{
		op:    "cancel",
		from:  []models.AppointmentStatus{models.StatusRequested, models.StatusScheduled},
		to:    models.StatusCancelled,
		event: events.EventAppointmentCancelled,
		authorize: func(a *models.Appointment) error {
			if p.IsAdmin() || p.Owns(a) {
				return nil
			}
			return fmt.Errorf("%w: appointment %d belongs to another user", domain.ErrUnauthorized, a.ID)
		},
		guard: func(a *models.Appointment) error {
			if p.IsAdmin() {
				return nil
			}
			if !a.CanBeCancelledBy(s.clock.Now(), s.opts.CancellationWindow) {
				return fmt.Errorf("%w: appointment %d starts within %s", domain.ErrCancellationWindowClosed, a.ID, s.opts.CancellationWindow)
			}
			return nil
		},
	}, reason)
}

func (s *AppointmentService) apply(
	ctx context.Context,
	id int64,
	p models.Principal,
	t transition,
	reason string,
) (*models.Appointment, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.authorize != nil {
		if err := t.authorize(current); err != nil {
			return nil, err
		}
	}
	if !t.allowedFrom(current.Status) {
		return nil, fmt.Errorf("%w: cannot %s appointment %d in status %s", domain.ErrInvalidTransition, t.op, id, current.Status)
	}
	if t.guard != nil {
		if err := t.guard(current); err != nil {
			return nil, err
		}
	}

	if err := s.repo.UpdateAppointmentStatusWithVersion(ctx, id, current.Version, t.to, reason); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishEvent(t.event, updated, current.Status, p.ID)
	return updated, nil
}

// Create books a new appointment. Non-admins may only book for themselves
// and always start in REQUESTED; admins default to SCHEDULED.
func (s *AppointmentService) Create(ctx context.Context, draft models.AppointmentDraft, p models.Principal) (a *models.Appointment, err error) {
	defer s.observe("create", 0, p, &err)
	if !p.IsAuthenticated() {
		return nil, fmt.Errorf("%w: create requires an authenticated principal", domain.ErrUnauthorized)
	}

	userID := draft.UserID
	status := models.StatusRequested
	if p.IsAdmin() {
		if userID == 0 {
			userID = p.ID
		}
		status = models.StatusScheduled
		if draft.Status != nil {
			if !draft.Status.Valid() || draft.Status.IsTerminal() {
				return nil, fmt.Errorf("%w: initial status must be REQUESTED or SCHEDULED", domain.ErrValidation)
			}
			status = *draft.Status
		}
	} else {
		if userID != 0 && userID != p.ID {
			return nil, fmt.Errorf("%w: cannot book for another user", domain.ErrUnauthorized)
		}
		userID = p.ID
		if draft.Status != nil && *draft.Status != models.StatusRequested {
			return nil, fmt.Errorf("%w: only admins may create %s appointments", domain.ErrUnauthorized, *draft.Status)
		}
	}

	start, end, err := normalizeSlot(draft.StartTime, draft.EndTime)
	if err != nil {
		return nil, err
	}
	if err := s.resolveUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.resolveService(ctx, draft.ServiceID); err != nil {
		return nil, err
	}

	a = &models.Appointment{
		StartTime:    start,
		EndTime:      end,
		Status:       status,
		SpecialNeeds: draft.SpecialNeeds,
		UserID:       userID,
		ServiceID:    draft.ServiceID,
	}
	if s.opts.PreventOverlap {
		err = s.repo.CreateAppointmentWithOverlapCheck(ctx, a)
	} else {
		err = s.repo.CreateAppointment(ctx, a)
	}
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			return nil, fmt.Errorf("%w: %s - %s", domain.ErrSlotUnavailable, start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		return nil, err
	}

	s.publishEvent(events.CreatedEventFor(status), a, "", p.ID)
	return a, nil
}

// Edit replaces the non-status fields of a live appointment.
func (s *AppointmentService) Edit(ctx context.Context, id int64, patch models.AppointmentPatch, p models.Principal) (a *models.Appointment, err error) {
	defer s.observe("edit", id, p, &err)
	if !p.IsAuthenticated() {
		return nil, fmt.Errorf("%w: edit requires an authenticated principal", domain.ErrUnauthorized)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	statusChange := patch.Status != nil && *patch.Status != current.Status
	if !p.IsAdmin() {
		if !p.Owns(current) {
			return nil, fmt.Errorf("%w: appointment %d belongs to another user", domain.ErrUnauthorized, id)
		}
		if statusChange {
			return nil, fmt.Errorf("%w: only admins may change status", domain.ErrUnauthorized)
		}
		if patch.UserID != nil && *patch.UserID != p.ID {
			return nil, fmt.Errorf("%w: cannot reassign appointment to another user", domain.ErrUnauthorized)
		}
	} else if statusChange {
		return nil, fmt.Errorf("%w: status changes go through approve, reject, complete or cancel", domain.ErrInvalidTransition)
	}

	if current.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: appointment %d is %s", domain.ErrInvalidTransition, id, current.Status)
	}
	if patch.Version != nil && *patch.Version != current.Version {
		return nil, fmt.Errorf("%w: expected version %d, found %d", domain.ErrConcurrentModification, *patch.Version, current.Version)
	}

	updated := patch.Apply(*current)
	if updated.StartTime, updated.EndTime, err = normalizeSlot(updated.StartTime, updated.EndTime); err != nil {
		return nil, err
	}
	if updated.UserID != current.UserID {
		if err := s.resolveUser(ctx, updated.UserID); err != nil {
			return nil, err
		}
	}
	if patch.ServiceID != nil && !patch.ClearService {
		if err := s.resolveService(ctx, updated.ServiceID); err != nil {
			return nil, err
		}
	}
	if s.opts.PreventOverlap && patch.TimesChanged(*current) {
		err = s.repo.UpdateAppointmentWithOverlapCheck(ctx, &updated, current.Version)
	} else {
		err = s.repo.UpdateAppointmentWithVersion(ctx, &updated, current.Version)
	}
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			return nil, fmt.Errorf("%w: slot overlaps another appointment", domain.ErrSlotUnavailable)
		}
		return nil, err
	}
	s.publishEvent(events.EventAppointmentUpdated, &updated, current.Status, p.ID)
	return &updated, nil
}

func (s *AppointmentService) Get(ctx context.Context, id int64, p models.Principal) (*models.Appointment, error) {
	if !p.IsAuthenticated() {
		return nil, fmt.Errorf("%w: authentication required", domain.ErrUnauthorized)
	}
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !p.Owns(a) {
		return nil, fmt.Errorf("%w: appointment %d belongs to another user", domain.ErrUnauthorized, id)
	}
	return a, nil
}

// List pages over every appointment for admins and over their own for users.
func (s *AppointmentService) List(ctx context.Context, p models.Principal, page models.PageRequest) (*models.AppointmentPage, error) {
	if !p.IsAuthenticated() {
		return nil, fmt.Errorf("%w: authentication required", domain.ErrUnauthorized)
	}
	page = page.Normalize()
	var owner int64
	if !p.IsAdmin() {
		owner = p.ID
	}

	items, total, err := s.repo.ListAppointments(ctx, page, owner)
	if err != nil {
		return nil, err
	}
	return &models.AppointmentPage{Items: items, Total: total, Page: page.Page, Size: page.Size}, nil
}

// ListBetween returns appointments starting in [from, to), scoped like List.
func (s *AppointmentService) ListBetween(ctx context.Context, from, to time.Time, p models.Principal) ([]*models.Appointment, error) {
	if !p.IsAuthenticated() {
		return nil, fmt.Errorf("%w: authentication required", domain.ErrUnauthorized)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("%w: range end must be after range start", domain.ErrValidation)
	}

	all, err := s.repo.ListAppointmentsBetween(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	if p.IsAdmin() {
		return all, nil
	}
	own := make([]*models.Appointment, 0, len(all))
	for _, a := range all {
		if p.Owns(a) {
			own = append(own, a)
		}
	}
	return own, nil
}

// Delete is the administrative hard delete.
func (s *AppointmentService) Delete(ctx context.Context, id int64, p models.Principal) (err error) {
	defer s.observe("delete", id, p, &err)
	if err := requireAdmin(p, "delete"); err != nil {
		return err
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return err
	}
	s.publishEvent(events.EventAppointmentDeleted, current, current.Status, p.ID)
	return nil
}

func requireAdmin(p models.Principal, op string) error {
	if !p.IsAuthenticated() || !p.IsAdmin() {
		return fmt.Errorf("%w: %s requires the ADMIN role", domain.ErrUnauthorized, op)
	}
	return nil
}

// normalizeSlot stores instants in UTC at millisecond precision.
func normalizeSlot(start, end time.Time) (time.Time, time.Time, error) {
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start_time and end_time are required", domain.ErrValidation)
	}
	start = start.UTC().Truncate(time.Millisecond)
	end = end.UTC().Truncate(time.Millisecond)
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end_time must be after start_time", domain.ErrValidation)
	}
	return start, end, nil
}

func (s *AppointmentService) resolveUser(ctx context.Context, id int64) error {
	if s.users == nil {
		return nil
	}
	if _, err := s.users.GetUserByID(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: user %d does not exist", domain.ErrValidation, id)
		}
		return err
	}
	return nil
}

func (s *AppointmentService) resolveService(ctx context.Context, id *int64) error {
	if id == nil || s.services == nil {
		return nil
	}
	if _, err := s.services.GetService(ctx, *id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: service %d does not exist", domain.ErrValidation, *id)
		}
		return err
	}
	return nil
}

func (s *AppointmentService) lock(ctx context.Context, id int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("appointment:%d", id))
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock appointment %d: %w", id, err)
	}
	return unlock, nil
}

func (s *AppointmentService) publishEvent(eventType string, a *models.Appointment, prev models.AppointmentStatus, changedBy int64) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewAppointmentPayload(a, prev, changedBy)
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("appointment_id", a.ID).Msg("publish event error")
	}
}

func (s *AppointmentService) observe(op string, id int64, p models.Principal, errp *error) {
	kind := domain.Kind(*errp)
	metrics.ObserveTransition(op, kind)

	var evt *zerolog.Event
	switch kind {
	case "ok":
		evt = s.logger.Info()
	case "internal":
		evt = s.logger.Error().Err(*errp)
	default:
		evt = s.logger.Debug().Err(*errp)
	}
	evt.Str("operation", op).
		Int64("appointment_id", id).
		Int64("principal_id", p.ID).
		Str("result", kind).
		Msg("appointment operation")
}
