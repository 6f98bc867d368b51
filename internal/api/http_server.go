package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookingsys/internal/config"
	"bookingsys/internal/domain"
	"bookingsys/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Dependencies are the application services both API surfaces call into.
type Dependencies struct {
	Appointments domain.AppointmentService
	Catalog      domain.CatalogService
	Users        domain.UserService
	Exports      config.ExportConfig
	Location     *time.Location
}

// HTTPServer exposes the JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Dependencies
	auth   *Authenticator
	server *http.Server
	log    zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Dependencies, auth *Authenticator, logger *zerolog.Logger) *HTTPServer {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if auth == nil {
		auth = NewAuthenticator(cfg)
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, auth: auth, log: zerolog.Nop()}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler builds the full middleware chain. Only /api/v1 requires a key.
func (s *HTTPServer) Handler() http.Handler {
	api := http.NewServeMux()
	s.routes(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/api/v1/", s.auth.HTTPMiddleware(api))

	return s.loggingMiddleware(root)
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	s.handle(mux, "GET /api/v1/appointments", s.handleListAppointments)
	s.handle(mux, "POST /api/v1/appointments", s.handleCreateAppointment)
	s.handle(mux, "GET /api/v1/appointments/export", s.handleExportAppointments)
	s.handle(mux, "GET /api/v1/appointments/{id}", s.handleGetAppointment)
	s.handle(mux, "PUT /api/v1/appointments/{id}", s.handleReplaceAppointment)
	s.handle(mux, "PATCH /api/v1/appointments/{id}", s.handlePatchAppointment)
	s.handle(mux, "DELETE /api/v1/appointments/{id}", s.handleDeleteAppointment)
	s.handle(mux, "POST /api/v1/appointments/{id}/approve", s.transitionHandler("approve"))
	s.handle(mux, "POST /api/v1/appointments/{id}/reject", s.transitionHandler("reject"))
	s.handle(mux, "POST /api/v1/appointments/{id}/complete", s.transitionHandler("complete"))
	s.handle(mux, "POST /api/v1/appointments/{id}/cancel", s.handleCancelAppointment)

	s.handle(mux, "GET /api/v1/services", s.handleListServices)
	s.handle(mux, "POST /api/v1/services", s.handleCreateService)
	s.handle(mux, "GET /api/v1/services/{id}", s.handleGetService)
	s.handle(mux, "PUT /api/v1/services/{id}", s.handleUpdateService)
	s.handle(mux, "DELETE /api/v1/services/{id}", s.handleDeleteService)

	s.handle(mux, "GET /api/v1/users", s.handleListUsers)
	s.handle(mux, "POST /api/v1/users", s.handleCreateUser)
	s.handle(mux, "GET /api/v1/me", s.handleMe)
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		evt := s.log.Info()
		if recorder.status >= http.StatusInternalServerError {
			evt = s.log.Error()
		}
		evt.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeDomainError maps a service error to a status code. 5xx bodies do not
// carry the cause.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, code, map[string]string{"error": "internal error", "kind": domain.Kind(err)})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": domain.Kind(err)})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// decodeJSON rejects unknown fields. An empty body decodes to the zero value
// when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrValidation, err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
