package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bookingsys/internal/domain"
	"bookingsys/internal/events"
	"bookingsys/internal/metrics"
	"bookingsys/internal/models"
	"bookingsys/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// UserLookup resolves the recipient of a notification.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// ServiceLookup resolves service names for message text.
type ServiceLookup interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
}

// NotificationWorker drains the notification outbox and delivers each task
// through the notifier.
type NotificationWorker struct {
	store         domain.NotificationStore
	users         UserLookup
	services      ServiceLookup
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	claimLease    time.Duration
	batchSize     int
	location      *time.Location
	logger        *zerolog.Logger
	now           func() time.Time
}

// NewNotificationWorker builds a worker with sane defaults. redisClient may be nil.
func NewNotificationWorker(
	store domain.NotificationStore,
	users UserLookup,
	notifier domain.Notifier,
	redisClient *redis.Client,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		users:         users,
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		pollInterval:  30 * time.Second,
		claimLease:    5 * time.Minute,
		batchSize:     20,
		location:      time.UTC,
		logger:        logger,
		now:           time.Now,
	}
}

// SetPollInterval overrides how often sqlite is polled when both queues are empty.
func (w *NotificationWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// SetLocation sets the zone used to print appointment times.
func (w *NotificationWorker) SetLocation(loc *time.Location) {
	if loc != nil {
		w.location = loc
	}
}

// SetServiceLookup lets messages name the booked service.
func (w *NotificationWorker) SetServiceLookup(services ServiceLookup) {
	w.services = services
}

// Subscribe hooks the worker to every appointment event on the bus.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(events.AppointmentEvents, func(event *events.Event) error {
		if err := w.EnqueueEvent(context.Background(), event); err != nil {
			w.logger.Error().Err(err).Str("event", event.Type).Msg("notification_worker: enqueue failed")
			return err
		}
		return nil
	})
}

// EnqueueEvent persists a task for the event and schedules it via redis or
// the in-memory queue.
func (w *NotificationWorker) EnqueueEvent(ctx context.Context, event *events.Event) error {
	if event == nil || event.Type == "" {
		return errors.New("event type is required")
	}

	var payload events.AppointmentEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode event payload: %w", err)
	}
	if payload.UserID == 0 {
		return errors.New("event has no recipient")
	}

	task := models.NotificationTask{
		EventType:     event.Type,
		AppointmentID: payload.AppointmentID,
		UserID:        payload.UserID,
		Payload:       string(event.Payload),
		Status:        models.TaskStatusPending,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, &task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("notification_worker: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("notification_worker: in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Str("channel", w.notifier.Channel()).Msg("notification_worker: started")
	defer w.logger.Info().Msg("notification_worker: stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		processed, err := w.pollOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("notification_worker: fetch pending")
		}
		if processed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *NotificationWorker) pollOnce(ctx context.Context) (int, error) {
	tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	metrics.SetNotificationQueueDepth(len(tasks))
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.NotificationTask{}, false
		}
		w.logger.Error().Err(err).Msg("notification_worker: redis BRPOP error")
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("notification_worker: decode redis task")
		return models.NotificationTask{}, false
	}
	if n, err := w.redis.LLen(ctx, w.redisQueueKey).Result(); err == nil {
		metrics.SetNotificationQueueDepth(int(n))
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	log := w.logger.With().Int64("task_id", task.ID).Str("event", task.EventType).Int64("user_id", task.UserID).Logger()

	// The same task can reach us from the queue and from polling.
	claimed, err := w.store.ClaimNotificationTask(ctx, task.ID, w.claimLease)
	if err != nil {
		log.Error().Err(err).Msg("notification_worker: claim task")
		return
	}
	if !claimed {
		log.Debug().Msg("notification_worker: task already taken")
		return
	}

	user, err := w.users.GetUserByID(ctx, task.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.failTask(ctx, task, fmt.Errorf("recipient: %w", err))
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	subject, body, err := notify.RenderMessage(task.EventType, w.withNames(ctx, []byte(task.Payload), user), w.location)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("render: %w", err))
		return
	}

	if err := w.notifier.Notify(ctx, user, subject, body); err != nil {
		if errors.Is(err, notify.ErrNoRecipient) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		log.Error().Err(err).Msg("notification_worker: mark completed")
		return
	}
	log.Debug().Msg("notification delivered")
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: mark retry")
		return
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).
		Msg("notification_worker: delivery failed, will retry")
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: mark failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Msg("notification_worker: task dead-lettered")
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("notification_worker: deadletter push")
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task *models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

// withNames fills the recipient and service names into the payload. The raw
// payload is returned unchanged when it cannot be decoded.
func (w *NotificationWorker) withNames(ctx context.Context, raw []byte, user *models.User) []byte {
	var p events.AppointmentEventPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return raw
	}
	if p.UserName == "" {
		p.UserName = user.DisplayName()
	}
	if p.ServiceName == "" && p.ServiceID != 0 && w.services != nil {
		if svc, err := w.services.GetService(ctx, p.ServiceID); err == nil {
			p.ServiceName = svc.Name
		}
	}
	enriched, err := json.Marshal(p)
	if err != nil {
		return raw
	}
	return enriched
}
