package gsapi

import (
	"context"
	"errors"

	"github.com/signalsfoundry/groundlink/internal/doppler"
	"github.com/signalsfoundry/groundlink/kb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrInvalidRequest is used for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStreamNotActive is returned when no stream is open for a ground station.
	ErrStreamNotActive = errors.New("ground-station stream not active")
	// ErrStreamClosed is returned by TelemetryStream.Send after the stream ended.
	ErrStreamClosed = errors.New("ground-station stream closed")
)

// ToStatusError maps API and store errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrPlanNotFound),
		errors.Is(err, doppler.ErrPlanNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, kb.ErrInvalidPlan):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrStreamNotActive):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
