package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"bookingsys/internal/database"
	"bookingsys/internal/events"
	"bookingsys/internal/models"
	"bookingsys/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	err      error
	subjects []string
	bodies   []string
	users    []int64
}

func (f *fakeNotifier) Channel() string { return "fake" }

func (f *fakeNotifier) Notify(_ context.Context, user *models.User, subject, body string) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	f.users = append(f.users, user.ID)
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedRecipient(t *testing.T, db *database.DB) int64 {
	t.Helper()
	u := &models.User{Login: "alice", FirstName: "Alice", TelegramChatID: 100}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u.ID
}

func approvedEvent(t *testing.T, userID int64) *events.Event {
	t.Helper()
	start := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	a := &models.Appointment{
		ID:        7,
		UserID:    userID,
		Status:    models.StatusScheduled,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Version:   2,
	}
	ev, err := events.NewJSONEvent(events.EventAppointmentApproved, events.NewAppointmentPayload(a, models.StatusRequested, 1))
	require.NoError(t, err)
	return &ev
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (string, int, sql.NullString) {
	t.Helper()
	var (
		status    string
		retries   int
		nextRetry sql.NullString
	)
	err := db.QueryRow(`SELECT status, retry_count, next_retry_at FROM notification_queue WHERE id = ?`, id).
		Scan(&status, &retries, &nextRetry)
	require.NoError(t, err)
	return status, retries, nextRetry
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	n := &fakeNotifier{}
	w := NewNotificationWorker(db, db, n, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	require.NoError(t, w.EnqueueEvent(ctx, approvedEvent(t, userID)))

	task, ok := w.tryLocalQueue()
	require.True(t, ok)
	assert.Equal(t, int64(7), task.AppointmentID)
	assert.Equal(t, userID, task.UserID)

	w.processTask(ctx, &task)

	status, retries, next := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusCompleted, status)
	assert.Zero(t, retries)
	assert.False(t, next.Valid)
	assert.Equal(t, []string{"Appointment confirmed"}, n.subjects)
	assert.Equal(t, []int64{userID}, n.users)
}

func TestProcessTaskNamesRecipientAndService(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	ctx := context.Background()
	svc := &models.Service{Name: "Massage", PriceCents: 5000}
	require.NoError(t, db.CreateService(ctx, svc))

	n := &fakeNotifier{}
	w := NewNotificationWorker(db, db, n, nil, RetryPolicy{}, nil)
	w.SetServiceLookup(db)

	start := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	a := &models.Appointment{ID: 8, UserID: userID, ServiceID: &svc.ID, Status: models.StatusRequested,
		StartTime: start, EndTime: start.Add(time.Hour), Version: 1}
	ev, err := events.NewJSONEvent(events.EventAppointmentRequested, events.NewAppointmentPayload(a, "", userID))
	require.NoError(t, err)
	require.NoError(t, w.EnqueueEvent(ctx, &ev))

	task, ok := w.tryLocalQueue()
	require.True(t, ok)
	w.processTask(ctx, &task)

	require.Len(t, n.bodies, 1)
	assert.Contains(t, n.bodies[0], "Hello, Alice!")
	assert.Contains(t, n.bodies[0], "Service: Massage")
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	w := NewNotificationWorker(db, db, &fakeNotifier{err: errors.New("boom")}, nil,
		RetryPolicy{MaxRetries: 3, InitialDelay: time.Minute}, nil)

	ctx := context.Background()
	require.NoError(t, w.EnqueueEvent(ctx, approvedEvent(t, userID)))
	task, ok := w.tryLocalQueue()
	require.True(t, ok)
	w.processTask(ctx, &task)

	status, retries, next := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusRetry, status)
	assert.Equal(t, 1, retries)
	assert.True(t, next.Valid)

	// Backoff has not elapsed, so polling skips it.
	pending, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessTaskFailDeadLetters(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	w := NewNotificationWorker(db, db, &fakeNotifier{err: errors.New("fatal")}, client, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	require.NoError(t, w.EnqueueEvent(ctx, approvedEvent(t, userID)))

	task, ok := w.tryRedis(ctx)
	require.True(t, ok)
	w.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusFailed, status)

	dead, err := client.LRange(ctx, w.deadLetterKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	var deadTask models.NotificationTask
	require.NoError(t, json.Unmarshal([]byte(dead[0]), &deadTask))
	assert.Equal(t, task.ID, deadTask.ID)
}

func TestProcessTaskNoRecipientFailsWithoutRetry(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	w := NewNotificationWorker(db, db, &fakeNotifier{err: notify.ErrNoRecipient}, nil, RetryPolicy{MaxRetries: 5}, nil)

	ctx := context.Background()
	require.NoError(t, w.EnqueueEvent(ctx, approvedEvent(t, userID)))
	task, _ := w.tryLocalQueue()
	w.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusFailed, status)
}

func TestProcessTaskUnknownUser(t *testing.T) {
	db := newTestDB(t)
	n := &fakeNotifier{}
	w := NewNotificationWorker(db, db, n, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	require.NoError(t, w.EnqueueEvent(ctx, approvedEvent(t, 999)))
	task, _ := w.tryLocalQueue()
	w.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, models.TaskStatusFailed, status)
	assert.Empty(t, n.subjects)
}

func TestEnqueueEventValidation(t *testing.T) {
	db := newTestDB(t)
	w := NewNotificationWorker(db, db, &fakeNotifier{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	assert.Error(t, w.EnqueueEvent(ctx, nil))
	assert.Error(t, w.EnqueueEvent(ctx, &events.Event{Type: events.EventAppointmentApproved, Payload: []byte("nope")}))
	assert.Error(t, w.EnqueueEvent(ctx, &events.Event{Type: events.EventAppointmentApproved, Payload: []byte(`{"appointment_id":1}`)}))
}

func TestSubscribeDeliversThroughPolling(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	n := &fakeNotifier{}
	w := NewNotificationWorker(db, db, n, nil, RetryPolicy{}, nil)

	bus := events.NewEventBus()
	w.Subscribe(bus)

	start := time.Date(2026, 6, 3, 10, 0, 0, 0, time.UTC)
	a := &models.Appointment{ID: 3, UserID: userID, Status: models.StatusCancelled, StartTime: start, EndTime: start.Add(time.Hour)}
	require.NoError(t, bus.PublishJSON(events.EventAppointmentCancelled, events.NewAppointmentPayload(a, models.StatusScheduled, userID)))

	// Drop the in-memory copy so the sqlite poll path delivers it.
	_, ok := w.tryLocalQueue()
	require.True(t, ok)

	processed, err := w.pollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, []string{"Appointment cancelled"}, n.subjects)
}

func TestTaskSeenByQueueAndPollIsSentOnce(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	n := &fakeNotifier{}
	w := NewNotificationWorker(db, db, n, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	require.NoError(t, w.EnqueueEvent(ctx, approvedEvent(t, userID)))

	// The poll picks the row up while its queued copy is still waiting.
	processed, err := w.pollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	queued, ok := w.tryLocalQueue()
	require.True(t, ok)
	w.processTask(ctx, &queued)

	assert.Equal(t, []string{"Appointment confirmed"}, n.subjects)
	status, _, _ := loadTaskStatus(t, db, queued.ID)
	assert.Equal(t, models.TaskStatusCompleted, status)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	db := newTestDB(t)
	userID := seedRecipient(t, db)
	n := &fakeNotifier{}
	w := NewNotificationWorker(db, db, n, nil, RetryPolicy{}, nil)
	w.SetPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.EnqueueEvent(ctx, approvedEvent(t, userID)))

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		status, _, _ := loadTaskStatus(t, db, 1)
		return status == models.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(5))
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(0))
}
