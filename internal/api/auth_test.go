package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookingsys/internal/config"
	"bookingsys/internal/domain"
	"bookingsys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator(testAPIConfig())

	client, err := a.Authenticate(adminKey, "")
	require.NoError(t, err)
	assert.Equal(t, "backoffice", client.Name)

	_, err = a.Authenticate("", "")
	assert.ErrorIs(t, err, errMissingCredentials)

	_, err = a.Authenticate("unknown", "")
	assert.ErrorIs(t, err, errInvalidAPIKey)

	_, err = a.Authenticate(userKey, "")
	assert.ErrorIs(t, err, errInvalidExtra)

	_, err = a.Authenticate(userKey, userExtra)
	assert.NoError(t, err)
}

func TestPrincipalFor(t *testing.T) {
	p := principalFor(config.APIClientKey{UserID: 7, Roles: []string{"admin", "bogus", "USER"}})
	assert.Equal(t, int64(7), p.ID)
	assert.True(t, p.IsAdmin())
	assert.True(t, p.HasRole(models.RoleUser))
	assert.Len(t, p.Roles, 2)
}

func TestPrincipalContext(t *testing.T) {
	assert.False(t, PrincipalFrom(context.Background()).IsAuthenticated())
	ctx := WithPrincipal(context.Background(), models.NewPrincipal(4, models.RoleUser))
	assert.Equal(t, int64(4), PrincipalFrom(ctx).ID)
}

func TestRequiredPermission(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/1", nil)
	post := httptest.NewRequest(http.MethodPost, "/api/v1/appointments/1/approve", nil)
	svc := httptest.NewRequest(http.MethodPost, "/api/v1/services", nil)
	me := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)

	assert.Equal(t, permReadAppointments, requiredPermissionHTTP(get))
	assert.Equal(t, permWriteAppointments, requiredPermissionHTTP(post))
	assert.Equal(t, permWriteServices, requiredPermissionHTTP(svc))
	assert.Empty(t, requiredPermissionHTTP(me))

	assert.Equal(t, permReadAppointments, requiredPermissionGRPC("/"+appointmentServiceName+"/List"))
	assert.Equal(t, permWriteAppointments, requiredPermissionGRPC("/"+appointmentServiceName+"/Cancel"))
	assert.Empty(t, requiredPermissionGRPC("/grpc.health.v1.Health/Check"))

	assert.True(t, hasPermission(config.APIClientKey{}, permWriteAppointments))
	assert.False(t, hasPermission(config.APIClientKey{Permissions: []string{permReadAppointments}}, permWriteAppointments))
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		http int
		grpc codes.Code
	}{
		{domain.ErrNotFound, http.StatusNotFound, codes.NotFound},
		{domain.ErrValidation, http.StatusBadRequest, codes.InvalidArgument},
		{domain.ErrUnauthorized, http.StatusForbidden, codes.PermissionDenied},
		{domain.ErrInvalidTransition, http.StatusConflict, codes.FailedPrecondition},
		{domain.ErrCancellationWindowClosed, http.StatusConflict, codes.FailedPrecondition},
		{domain.ErrConcurrentModification, http.StatusConflict, codes.Aborted},
		{domain.ErrLockTimeout, http.StatusConflict, codes.Aborted},
		{domain.ErrSlotUnavailable, http.StatusConflict, codes.AlreadyExists},
		{errors.New("disk on fire"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.http, httpStatusFor(tc.err), tc.err.Error())
		assert.Equal(t, tc.grpc, grpcCodeFor(tc.err), tc.err.Error())
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 0.001, Burst: 2})
	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	off := newRateLimiter(config.APIRateLimitConfig{})
	for i := 0; i < 10; i++ {
		assert.True(t, off.allow("a"))
	}
}
