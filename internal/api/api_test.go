package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"bookingsys/internal/config"
	"bookingsys/internal/database"
	"bookingsys/internal/events"
	"bookingsys/internal/models"
	"bookingsys/internal/repository"
	"bookingsys/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var apiNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	adminKey    = "admin-key"
	userKey     = "user-key"
	userExtra   = "user-secret"
	otherKey    = "other-key"
	readOnlyKey = "readonly-key"
)

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		GRPC:    config.APIGRPCConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			APIKeys: []config.APIClientKey{
				{Key: adminKey, Name: "backoffice", UserID: 1, Roles: []string{"ADMIN"}},
				{Key: userKey, Extra: userExtra, Name: "alice-app", UserID: 2, Roles: []string{"USER"}},
				{Key: otherKey, Name: "bob-app", UserID: 3, Roles: []string{"USER"}},
				{Key: readOnlyKey, Name: "reports", UserID: 2, Roles: []string{"USER"}, Permissions: []string{permReadAppointments}},
			},
		},
	}
}

type testStack struct {
	cfg     config.APIConfig
	db      *database.DB
	deps    Dependencies
	handler http.Handler
	bus     *events.EventBus
}

func newTestStack(t *testing.T, cfg config.APIConfig) *testStack {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: 1, Login: "admin", FirstName: "Admin", IsAdmin: true}))
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: 2, Login: "alice", FirstName: "Alice"}))
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: 3, Login: "bob", FirstName: "Bob"}))

	bus := events.NewEventBus()
	appointments := service.NewAppointmentService(
		db, db, db,
		repository.NewMemoryLocker(2*time.Second),
		bus, service.FixedClock{T: apiNow},
		service.AppointmentOptions{CancellationWindow: 24 * time.Hour, PreventOverlap: true},
		&logger,
	)
	deps := Dependencies{
		Appointments: appointments,
		Catalog:      service.NewCatalogService(db, &logger),
		Users:        service.NewUserService(db, &logger),
		Exports:      config.ExportConfig{Path: filepath.Join(t.TempDir(), "exports")},
		Location:     time.UTC,
	}
	srv := NewHTTPServer(cfg, deps, nil, &logger)
	return &testStack{cfg: cfg, db: db, deps: deps, handler: srv.Handler(), bus: bus}
}

func (s *testStack) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if key == userKey {
		req.Header.Set("X-API-Extra", userExtra)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func slot(offset time.Duration) map[string]any {
	start := apiNow.Add(offset)
	return map[string]any{
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(time.Hour).Format(time.RFC3339),
	}
}

// createAs books an appointment and returns its id.
func (s *testStack) createAs(t *testing.T, key string, body map[string]any) int64 {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/appointments", key, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[models.Appointment](t, rec).ID
}

func httpRequestWithHeaders(t *testing.T, s *testStack, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}
