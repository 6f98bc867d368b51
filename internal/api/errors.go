package api

import (
	"errors"
	"net/http"

	"bookingsys/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCancellationWindowClosed),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrSlotUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func grpcCodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrCancellationWindowClosed):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrConcurrentModification):
		return codes.Aborted
	case errors.Is(err, domain.ErrSlotUnavailable):
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}

// toStatus converts a domain error for the wire. Internal causes are not leaked.
func toStatus(err error) error {
	code := grpcCodeFor(err)
	if code == codes.Internal {
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
