package nbi

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/internal/codec"
	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/internal/sim/state"
	"github.com/signalsfoundry/meshroute/model"
)

// ToStatusError maps common simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeFor(err), err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, types.ErrInvalidMessage),
		errors.Is(err, model.ErrBadNodeID),
		errors.Is(err, routing.ErrNodeOutOfRange),
		errors.Is(err, core.ErrNodeNotFound),
		errors.Is(err, codec.ErrInvalidChunkSize):
		return codes.InvalidArgument

	case errors.Is(err, ErrPayloadTooLarge):
		return codes.ResourceExhausted

	case errors.Is(err, routing.ErrNoRouteFound),
		errors.Is(err, routing.ErrUnreachableDestination):
		return codes.FailedPrecondition

	case errors.Is(err, state.ErrScenarioClosed):
		return codes.Unavailable

	case errors.Is(err, context.Canceled):
		return codes.Canceled

	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded

	default:
		return codes.Internal
	}
}

// HTTPStatus maps the same errors onto HTTP status codes. A missing route
// is 422: the request was well formed but the network cannot carry it.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if st, ok := status.FromError(err); ok {
		return httpFromCode(st.Code())
	}
	return httpFromCode(codeFor(err))
}

func httpFromCode(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.ResourceExhausted:
		return http.StatusRequestEntityTooLarge
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Canceled:
		return 499
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
