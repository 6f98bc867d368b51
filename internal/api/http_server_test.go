package api

import (
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"bookingsys/internal/config"
	"bookingsys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestHealthzNeedsNoKey(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestHTTPAuth(t *testing.T) {
	s := newTestStack(t, testAPIConfig())

	t.Run("MissingKey", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/appointments", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/appointments", "nope", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("WrongExtra", func(t *testing.T) {
		ok := s.do(t, http.MethodGet, "/api/v1/appointments", userKey, nil)
		assert.Equal(t, http.StatusOK, ok.Code)

		rec := httpRequestWithHeaders(t, s, http.MethodGet, "/api/v1/appointments", map[string]string{
			"X-API-Key":   userKey,
			"X-API-Extra": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/v1/appointments", readOnlyKey, slot(48*time.Hour))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = s.do(t, http.MethodGet, "/api/v1/appointments", readOnlyKey, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		rec := httpRequestWithHeaders(t, s, http.MethodGet, "/api/v1/me", map[string]string{
			"X-API-Key":     adminKey,
			requestIDHeader: "req-123",
		})
		assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
	})
}

func TestHTTPRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	s := newTestStack(t, cfg)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/me", adminKey, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/api/v1/me", adminKey, nil).Code)
	// Buckets are per key.
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/me", otherKey, nil).Code)
}

func TestHTTPApproveFlow(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	id := s.createAs(t, userKey, slot(48*time.Hour))

	path := fmt.Sprintf("/api/v1/appointments/%d", id)
	got := decodeBody[models.Appointment](t, s.do(t, http.MethodGet, path, userKey, nil))
	assert.Equal(t, models.StatusRequested, got.Status)
	assert.Equal(t, int64(2), got.UserID)

	rec := s.do(t, http.MethodPost, path+"/approve", userKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", decodeBody[map[string]string](t, rec)["kind"])

	rec = s.do(t, http.MethodPost, path+"/approve", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusScheduled, decodeBody[models.Appointment](t, rec).Status)

	rec = s.do(t, http.MethodPost, path+"/approve", adminKey, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody[map[string]string](t, rec)["kind"])

	rec = s.do(t, http.MethodPost, path+"/complete", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusCompleted, decodeBody[models.Appointment](t, rec).Status)

	rec = s.do(t, http.MethodPost, path+"/reject", adminKey, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTPCancelWindow(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	soon := s.createAs(t, userKey, slot(23*time.Hour))
	later := s.createAs(t, userKey, slot(25*time.Hour))

	rec := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/appointments/%d/cancel", soon), userKey, map[string]string{"reason": "busy"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cancellation_window_closed", decodeBody[map[string]string](t, rec)["kind"])

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/appointments/%d/cancel", later), userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusCancelled, decodeBody[models.Appointment](t, rec).Status)

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/appointments/%d/cancel", soon), adminKey, map[string]string{"reason": "closed"})
	require.Equal(t, http.StatusOK, rec.Code)
	cancelled := decodeBody[models.Appointment](t, rec)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, "closed", cancelled.CancelReason)
}

func TestHTTPCreateValidation(t *testing.T) {
	s := newTestStack(t, testAPIConfig())

	body := slot(48 * time.Hour)
	body["end_time"] = body["start_time"]
	rec := s.do(t, http.MethodPost, "/api/v1/appointments", userKey, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeBody[map[string]string](t, rec)["kind"])

	body = slot(48 * time.Hour)
	body["unexpected"] = true
	rec = s.do(t, http.MethodPost, "/api/v1/appointments", userKey, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = slot(48 * time.Hour)
	body["service_id"] = 999
	rec = s.do(t, http.MethodPost, "/api/v1/appointments", userKey, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.createAs(t, userKey, slot(72*time.Hour))
	rec = s.do(t, http.MethodPost, "/api/v1/appointments", otherKey, slot(72*time.Hour+30*time.Minute))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_unavailable", decodeBody[map[string]string](t, rec)["kind"])

	page := decodeBody[models.AppointmentPage](t, s.do(t, http.MethodGet, "/api/v1/appointments", adminKey, nil))
	assert.Equal(t, int64(1), page.Total)
}

func TestHTTPGetErrors(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	id := s.createAs(t, userKey, slot(48*time.Hour))

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/appointments/%d", id), otherKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/appointments/999", adminKey, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/appointments/abc", adminKey, nil).Code)
}

func TestHTTPEdit(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	id := s.createAs(t, userKey, slot(48*time.Hour))
	path := fmt.Sprintf("/api/v1/appointments/%d", id)

	rec := s.do(t, http.MethodPatch, path, userKey, map[string]any{"special_needs": "wheelchair"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeBody[models.Appointment](t, rec)
	assert.Equal(t, "wheelchair", edited.SpecialNeeds)
	assert.Equal(t, models.StatusRequested, edited.Status)

	rec = s.do(t, http.MethodPatch, path, userKey, map[string]any{"status": "SCHEDULED"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, path, userKey, map[string]any{"user_id": 3})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, path, otherKey, map[string]any{"special_needs": "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, path, userKey, map[string]any{"special_needs": "y", "version": 0})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "concurrent_modification", decodeBody[map[string]string](t, rec)["kind"])

	rec = s.do(t, http.MethodPut, path, userKey, map[string]any{"special_needs": "z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := slot(96 * time.Hour)
	body["special_needs"] = "moved"
	rec = s.do(t, http.MethodPut, path, userKey, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decodeBody[models.Appointment](t, rec)
	assert.True(t, moved.StartTime.Equal(apiNow.Add(96*time.Hour)))
}

func TestHTTPListScopesToOwner(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	s.createAs(t, userKey, slot(48*time.Hour))
	s.createAs(t, userKey, slot(50*time.Hour))
	s.createAs(t, otherKey, slot(52*time.Hour))

	rec := s.do(t, http.MethodGet, "/api/v1/appointments?size=1&sort=start_time,desc", userKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))
	page := decodeBody[models.AppointmentPage](t, rec)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].StartTime.Equal(apiNow.Add(50*time.Hour)))

	page = decodeBody[models.AppointmentPage](t, s.do(t, http.MethodGet, "/api/v1/appointments", adminKey, nil))
	assert.Equal(t, int64(3), page.Total)
}

func TestHTTPDelete(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	id := s.createAs(t, userKey, slot(48*time.Hour))
	path := fmt.Sprintf("/api/v1/appointments/%d", id)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, path, userKey, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, path, adminKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, adminKey, nil).Code)
}

func TestHTTPServices(t *testing.T) {
	s := newTestStack(t, testAPIConfig())

	rec := s.do(t, http.MethodPost, "/api/v1/services", userKey, map[string]any{"name": "Massage", "price_cents": 5000})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/services", adminKey, map[string]any{"name": "Massage", "price_cents": 5000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	svc := decodeBody[models.Service](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/services", adminKey, map[string]any{"name": "Bad", "price_cents": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	list := decodeBody[map[string][]models.Service](t, s.do(t, http.MethodGet, "/api/v1/services", userKey, nil))
	require.Len(t, list["items"], 1)

	rec = s.do(t, http.MethodPut, fmt.Sprintf("/api/v1/services/%d", svc.ID), adminKey, map[string]any{"price_cents": 6000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(6000), decodeBody[models.Service](t, rec).PriceCents)

	body := slot(48 * time.Hour)
	body["service_id"] = svc.ID
	s.createAs(t, userKey, body)

	rec = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/services/%d", svc.ID), adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/services/999", userKey, nil).Code)
}

func TestHTTPUsers(t *testing.T) {
	s := newTestStack(t, testAPIConfig())

	me := decodeBody[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/me", userKey, nil))
	assert.Equal(t, "alice-app", me["client"])
	user, ok := me["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", user["login"])

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/users", userKey, nil).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/users", adminKey, map[string]any{"login": "carol", "first_name": "Carol"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	list := decodeBody[map[string][]models.User](t, s.do(t, http.MethodGet, "/api/v1/users", adminKey, nil))
	assert.Len(t, list["items"], 4)

	rec = s.do(t, http.MethodPost, "/api/v1/users", adminKey, map[string]any{"login": "carol"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPExport(t *testing.T) {
	s := newTestStack(t, testAPIConfig())
	s.createAs(t, userKey, slot(48*time.Hour))
	s.createAs(t, otherKey, slot(50*time.Hour))

	rec := s.do(t, http.MethodGet, "/api/v1/appointments/export?from=2026-06-01&to=2026-06-10", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "appointments_2026-06-01_to_2026-06-10.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Appointments")
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments/export?from=bad", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments/export?from=2026-06-01&to=2026-06-10&save=1", userKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments/export?from=2026-06-01&to=2026-06-10&save=1", adminKey, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decodeBody[map[string]any](t, rec)
	_, err = os.Stat(saved["path"].(string))
	assert.NoError(t, err)
}
