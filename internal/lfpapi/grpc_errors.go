package lfpapi

import (
	"errors"

	"github.com/signalsfoundry/lfp-tracker/lfp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrTrackerNotFound is returned when a request names an unknown tracker.
	ErrTrackerNotFound = errors.New("tracker not found")
	// ErrInvalidRequest is returned for malformed requests.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps tracker errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrTrackerNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, lfp.ErrUnknownScheme),
		errors.Is(err, lfp.ErrUnknownMode),
		errors.Is(err, lfp.ErrInvalidConfig),
		errors.Is(err, lfp.ErrNonFiniteWeight):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, lfp.ErrRebindLength):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
