package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"bookingsys/internal/config"
	"bookingsys/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permReadAppointments  = "read:appointments"
	permWriteAppointments = "write:appointments"
	permWriteServices     = "write:services"
	permWriteUsers        = "write:users"
)

var (
	errMissingCredentials = errors.New("missing api key headers")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errPermissionDenied   = errors.New("permission denied")
	errRateLimited        = errors.New("rate limit exceeded")
)

type principalKey struct{}

type clientNameKey struct{}

// WithPrincipal stores the caller resolved from its API key.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller or the zero (unauthenticated) principal.
func PrincipalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey{}).(models.Principal)
	return p
}

func clientNameFrom(ctx context.Context) string {
	name, _ := ctx.Value(clientNameKey{}).(string)
	return name
}

// Authenticator maps API keys to principals and rate limits per key. The
// HTTP and gRPC surfaces share one instance.
type Authenticator struct {
	apiKeyHeader string
	extraHeader  string
	clients      map[string]config.APIClientKey
	limiter      *rateLimiter
}

func NewAuthenticator(cfg config.APIConfig) *Authenticator {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}

	apiKeyHeader := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = apiKeyHeaderDefault
	}
	extraHeader := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderExtra))
	if extraHeader == "" {
		extraHeader = apiExtraHeaderDefault
	}

	return &Authenticator{
		apiKeyHeader: apiKeyHeader,
		extraHeader:  extraHeader,
		clients:      m,
		limiter:      newRateLimiter(cfg.RateLimit),
	}
}

// Authenticate resolves a key pair. The extra header is only checked when the
// client has one configured.
func (a *Authenticator) Authenticate(apiKey, extra string) (config.APIClientKey, error) {
	if apiKey == "" {
		return config.APIClientKey{}, errMissingCredentials
	}
	client, ok := a.clients[apiKey]
	if !ok {
		return config.APIClientKey{}, errInvalidAPIKey
	}
	if client.Extra != "" && subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, errInvalidExtra
	}
	return client, nil
}

func principalFor(client config.APIClientKey) models.Principal {
	roles := make([]models.Role, 0, len(client.Roles))
	for _, raw := range client.Roles {
		if r, ok := models.ParseRole(raw); ok {
			roles = append(roles, r)
		}
	}
	return models.NewPrincipal(client.UserID, roles...)
}

// An empty permission list allows everything.
func hasPermission(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

func requiredPermissionHTTP(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	switch {
	case strings.HasPrefix(path, "/appointments"):
		if r.Method == http.MethodGet {
			return permReadAppointments
		}
		return permWriteAppointments
	case strings.HasPrefix(path, "/services"):
		if r.Method == http.MethodGet {
			return ""
		}
		return permWriteServices
	case strings.HasPrefix(path, "/users"):
		if r.Method == http.MethodGet {
			return ""
		}
		return permWriteUsers
	default:
		return ""
	}
}

func requiredPermissionGRPC(fullMethod string) string {
	if !strings.HasPrefix(fullMethod, "/"+appointmentServiceName+"/") {
		return ""
	}
	switch strings.TrimPrefix(fullMethod, "/"+appointmentServiceName+"/") {
	case "Get", "List":
		return permReadAppointments
	default:
		return permWriteAppointments
	}
}

// HTTPMiddleware authenticates, authorizes and rate limits a request and
// attaches the principal to its context.
func (a *Authenticator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get(a.apiKeyHeader))
		extra := strings.TrimSpace(r.Header.Get(a.extraHeader))

		client, err := a.Authenticate(apiKey, extra)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !hasPermission(client, requiredPermissionHTTP(r)) {
			writeError(w, http.StatusForbidden, errPermissionDenied.Error())
			return
		}
		if !a.limiter.allow(httpClientKey(apiKey, r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		ctx := WithPrincipal(r.Context(), principalFor(client))
		ctx = context.WithValue(ctx, clientNameKey{}, client.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func httpClientKey(apiKey string, r *http.Request) string {
	if apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// UnaryInterceptor is the gRPC counterpart of HTTPMiddleware. Health checks
// pass through unauthenticated.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := first(md.Get(a.apiKeyHeader))
		extra := first(md.Get(a.extraHeader))

		client, err := a.Authenticate(apiKey, extra)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if !hasPermission(client, requiredPermissionGRPC(info.FullMethod)) {
			return nil, status.Error(codes.PermissionDenied, errPermissionDenied.Error())
		}
		if !a.limiter.allow(grpcClientKey(ctx, apiKey)) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}

		ctx = WithPrincipal(ctx, principalFor(client))
		ctx = context.WithValue(ctx, clientNameKey{}, client.Name)
		return handler(ctx, req)
	}
}

func grpcClientKey(ctx context.Context, apiKey string) string {
	if apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
