package nbi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/internal/sim/state"
	"github.com/signalsfoundry/meshroute/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		http    int
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied, http: http.StatusInternalServerError},
		{name: "invalid request", err: fmt.Errorf("%w: bad", ErrInvalidRequest), code: codes.InvalidArgument, http: http.StatusBadRequest},
		{name: "bad message", err: types.ErrInvalidMessage, code: codes.InvalidArgument, http: http.StatusBadRequest},
		{name: "bad node id", err: model.ErrBadNodeID, code: codes.InvalidArgument, http: http.StatusBadRequest},
		{name: "too large", err: ErrPayloadTooLarge, code: codes.ResourceExhausted, http: http.StatusRequestEntityTooLarge},
		{name: "no route", err: fmt.Errorf("wrap: %w", routing.ErrNoRouteFound), code: codes.FailedPrecondition, http: http.StatusUnprocessableEntity},
		{name: "closed", err: state.ErrScenarioClosed, code: codes.Unavailable, http: http.StatusServiceUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded, http: http.StatusGatewayTimeout},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal, http: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				if code := HTTPStatus(nil); code != http.StatusOK {
					t.Fatalf("HTTPStatus(nil) = %d, want 200", code)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
			if code := HTTPStatus(tc.err); code != tc.http {
				t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, code, tc.http)
			}
		})
	}
}

func TestValidateTransmitRequest(t *testing.T) {
	req := types.TransmitRequest{Payload: []byte("abc"), Filename: "../../etc/passwd"}
	if err := ValidateTransmitRequest(&req, 10); err != nil {
		t.Fatalf("ValidateTransmitRequest() error = %v", err)
	}
	if req.Filename != "passwd" {
		t.Fatalf("Filename = %q, want passwd", req.Filename)
	}
	if err := ValidateTransmitRequest(&types.TransmitRequest{Payload: make([]byte, 11)}, 10); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("oversize error = %v, want ErrPayloadTooLarge", err)
	}
	if err := ValidateTransmitRequest(&types.TransmitRequest{Payload: make([]byte, 11)}, 0); err != nil {
		t.Fatalf("unlimited error = %v, want nil", err)
	}
	if err := ValidateTransmitRequest(nil, 10); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("nil error = %v, want ErrInvalidRequest", err)
	}
}
