package api

import (
	"context"
	"strings"
	"time"

	"bookingsys/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const requestIDKey = "x-request-id"

// RequestLogUnaryInterceptor tags each call with a request id, echoes it in the
// response header and puts a request-scoped logger into the context
// (zerolog.Ctx returns it downstream).
func RequestLogUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		reqID := incomingRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, reqID))

		reqLog := base.With().Str("request_id", reqID).Str("method", info.FullMethod).Logger()
		resp, err := handler(reqLog.WithContext(ctx), req)

		code := status.Code(err)
		metrics.IncGRPC(info.FullMethod, code.String())

		var evt *zerolog.Event
		switch code {
		case codes.OK:
			evt = reqLog.Info()
		case codes.Internal, codes.Unknown:
			evt = reqLog.Error().Err(err)
		default:
			evt = reqLog.Warn().Err(err)
		}
		evt.Str("peer", peerAddr(ctx)).
			Str("code", code.String()).
			Dur("duration", time.Since(started)).
			Msg("grpc call")

		return resp, err
	}
}

// RecoveryUnaryInterceptor turns a handler panic into codes.Internal.
func RecoveryUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				zerolog.Ctx(ctx).Error().Interface("panic", r).Str("method", info.FullMethod).Msg("grpc handler panicked")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, v := range md.Get(requestIDKey) {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return uuid.NewString()
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}
