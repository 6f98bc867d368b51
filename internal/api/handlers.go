package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookingsys/internal/domain"
	"bookingsys/internal/export"
	"bookingsys/internal/models"
)

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", domain.ErrValidation, r.PathValue("id"))
	}
	return id, nil
}

func pageFromQuery(r *http.Request) models.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	field, dir := models.ParseSort(q.Get("sort"))
	return models.PageRequest{Page: page, Size: size, SortField: field, Direction: dir}.Normalize()
}

func (s *HTTPServer) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Appointments.List(r.Context(), PrincipalFrom(r.Context()), pageFromQuery(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(page.Total, 10))
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var draft models.AppointmentDraft
	if err := decodeJSON(r, &draft, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	a, err := s.deps.Appointments.Create(r.Context(), draft, PrincipalFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/appointments/%d", a.ID))
	writeJSON(w, http.StatusCreated, a)
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	a, err := s.deps.Appointments.Get(r.Context(), id, PrincipalFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PUT replaces the editable fields, so the slot must be given in full.
func (s *HTTPServer) handleReplaceAppointment(w http.ResponseWriter, r *http.Request) {
	s.editAppointment(w, r, true)
}

func (s *HTTPServer) handlePatchAppointment(w http.ResponseWriter, r *http.Request) {
	s.editAppointment(w, r, false)
}

func (s *HTTPServer) editAppointment(w http.ResponseWriter, r *http.Request, replace bool) {
	id, err := pathID(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var patch models.AppointmentPatch
	if err := decodeJSON(r, &patch, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if replace && (patch.StartTime == nil || patch.EndTime == nil) {
		s.writeDomainError(w, r, fmt.Errorf("%w: start_time and end_time are required", domain.ErrValidation))
		return
	}
	a, err := s.deps.Appointments.Edit(r.Context(), id, patch, PrincipalFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *HTTPServer) handleDeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.deps.Appointments.Delete(r.Context(), id, PrincipalFrom(r.Context())); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) transitionHandler(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		var call func(context.Context, int64, models.Principal) (*models.Appointment, error)
		switch op {
		case "approve":
			call = s.deps.Appointments.Approve
		case "reject":
			call = s.deps.Appointments.Reject
		default:
			call = s.deps.Appointments.Complete
		}
		a, err := call(r.Context(), id, PrincipalFrom(r.Context()))
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *HTTPServer) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var body cancelRequest
	if err := decodeJSON(r, &body, true); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	a, err := s.deps.Appointments.Cancel(r.Context(), id, PrincipalFrom(r.Context()), strings.TrimSpace(body.Reason))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// parseDay accepts a calendar day or an RFC3339 instant.
func parseDay(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q; expected YYYY-MM-DD", domain.ErrValidation, raw)
	}
	return t, nil
}

// handleExportAppointments streams an xlsx of [from, to). Defaults to the
// seven days starting today. With save=1 the file is also kept on disk.
func (s *HTTPServer) handleExportAppointments(w http.ResponseWriter, r *http.Request) {
	loc := s.deps.Location
	q := r.URL.Query()

	now := time.Now().In(loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if raw := q.Get("from"); raw != "" {
		t, err := parseDay(raw, loc)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		from = t
	}
	to := from.AddDate(0, 0, 7)
	if raw := q.Get("to"); raw != "" {
		t, err := parseDay(raw, loc)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		to = t
	}

	p := PrincipalFrom(r.Context())
	appts, err := s.deps.Appointments.ListBetween(r.Context(), from, to, p)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	rows := export.BuildRows(r.Context(), appts, s.deps.Users, s.deps.Catalog)

	if q.Get("save") == "1" {
		if !p.IsAdmin() {
			s.writeDomainError(w, r, fmt.Errorf("%w: only admins may store exports", domain.ErrUnauthorized))
			return
		}
		path, err := export.SaveAppointmentsXLSX(s.deps.Exports.Path, from, to, rows, loc)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		s.log.Info().Str("file_path", path).Int("rows", len(rows)).Msg("Excel file created")
		writeJSON(w, http.StatusCreated, map[string]any{"path": path, "rows": len(rows)})
		return
	}

	var buf bytes.Buffer
	if err := export.WriteAppointmentsXLSX(&buf, from, to, rows, loc); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.Catalog.ListServices(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": services})
}

func (s *HTTPServer) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var svc models.Service
	if err := decodeJSON(r, &svc, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.deps.Catalog.CreateService(r.Context(), &svc, PrincipalFrom(r.Context())); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (s *HTTPServer) handleGetService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	svc, err := s.deps.Catalog.GetService(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var patch models.ServicePatch
	if err := decodeJSON(r, &patch, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	svc, err := s.deps.Catalog.UpdateService(r.Context(), id, patch, PrincipalFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *HTTPServer) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.deps.Catalog.DeleteService(r.Context(), id, PrincipalFrom(r.Context())); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.Users.GetAllUsers(r.Context(), PrincipalFrom(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := decodeJSON(r, &u, false); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.deps.Users.RegisterUser(r.Context(), &u, PrincipalFrom(r.Context())); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleMe reports the caller. The user record is optional: a key may act as
// an id that was never seeded.
func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	resp := map[string]any{"principal": p, "client": clientNameFrom(r.Context())}
	u, err := s.deps.Users.GetUserByID(r.Context(), p.ID)
	switch {
	case err == nil:
		resp["user"] = u
	case httpStatusFor(err) != http.StatusNotFound:
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
