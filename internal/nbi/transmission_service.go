// Package nbi contains the northbound HTTP and gRPC surfaces.
package nbi

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/sim/state"
	"github.com/signalsfoundry/meshroute/internal/transmit"
)

// Fully-qualified gRPC names of the transmission service.
const (
	TransmissionServiceName = "meshroute.nbi.v1.TransmissionService"
	TransmitMethod          = "/" + TransmissionServiceName + "/Transmit"
	RoutesMethod            = "/" + TransmissionServiceName + "/Routes"
)

// ScenarioFactory builds a fresh simulation for one request.
type ScenarioFactory func(ctx context.Context) (*state.ScenarioState, error)

// NewScenarioFactory returns a factory over cfg. Every scenario starts at
// t=0; the seed advances per request so repeated calls see different
// constellations while a restarted server replays the same sequence.
func NewScenarioFactory(cfg config.Config, log logging.Logger, opts ...state.ScenarioStateOption) ScenarioFactory {
	var n atomic.Uint64
	base := cfg.Constellation.Seed
	return func(ctx context.Context) (*state.ScenarioState, error) {
		seed := base + n.Add(1) - 1
		reqLog := logging.FromContext(ctx, log)
		all := append([]state.ScenarioStateOption{state.WithSeed(seed)}, opts...)
		s, err := state.NewScenarioState(cfg, reqLog, all...)
		if err != nil {
			return nil, err
		}
		reqLog.Debug(ctx, "scenario built", logging.Uint64("seed", seed))
		return s, nil
	}
}

// TransmissionService runs transmissions and routing queries, each on its
// own scenario.
type TransmissionService struct {
	newScenario ScenarioFactory
	log         logging.Logger
	// MaxPayloadBytes bounds request payloads; zero disables the check.
	MaxPayloadBytes int
}

// NewTransmissionService constructs a TransmissionService.
func NewTransmissionService(factory ScenarioFactory, log logging.Logger) *TransmissionService {
	if log == nil {
		log = logging.Noop()
	}
	return &TransmissionService{
		newScenario:     factory,
		log:             log,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
	}
}

// Transmit sends req through a fresh scenario.
func (s *TransmissionService) Transmit(ctx context.Context, req types.TransmitRequest) (*transmit.Response, error) {
	reqLog := logging.FromContext(ctx, s.log).With(
		logging.String("entity_type", "transmission"),
		logging.String("operation", "transmit"),
	)
	if err := ValidateTransmitRequest(&req, s.MaxPayloadBytes); err != nil {
		return nil, err
	}

	scenario, err := s.newScenario(ctx)
	if err != nil {
		return nil, fmt.Errorf("build scenario: %w", err)
	}
	defer scenario.Close()

	src, dst, err := types.ParseEndpoints(req.Src, req.Dst, scenario.Config().Constellation.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	ctx, span := startRouteSpan(ctx, "nbi.Transmit", src, dst,
		attribute.Int("payload.bytes", len(req.Payload)))
	defer span.End()

	resp, err := scenario.Send(ctx, transmit.Request{
		Payload:  req.Payload,
		Src:      src,
		Dst:      dst,
		Filename: req.Filename,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reqLog.Warn(ctx, "transmission failed",
			logging.String("src", src.Label()),
			logging.String("dst", dst.Label()),
			logging.Err(err),
		)
		return nil, err
	}

	reqLog.Info(ctx, "transmission completed",
		logging.String("src", src.Label()),
		logging.String("dst", dst.Label()),
		logging.Int("fragments", resp.Meta.TotalFragments),
		logging.Int("routes", len(resp.Routes)),
	)
	return resp, nil
}

// Routes returns the routing decision a transmission from src to dst
// would use at scenario start.
func (s *TransmissionService) Routes(ctx context.Context, src, dst string) (types.DecisionView, error) {
	scenario, err := s.newScenario(ctx)
	if err != nil {
		return types.DecisionView{}, fmt.Errorf("build scenario: %w", err)
	}
	defer scenario.Close()

	from, to, err := types.ParseEndpoints(src, dst, scenario.Config().Constellation.Shape)
	if err != nil {
		return types.DecisionView{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	ctx, span := startRouteSpan(ctx, "nbi.Routes", from, to)
	defer span.End()

	d, err := scenario.Routes(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		return types.DecisionView{}, err
	}
	return types.NewDecisionView(from, to, d), nil
}

// TransmissionServer is the gRPC server contract. Messages are
// google.protobuf.Struct so the service needs no generated stubs.
type TransmissionServer interface {
	Transmit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Routes(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type grpcTransmission struct {
	svc *TransmissionService
}

func (g grpcTransmission) Transmit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := types.RequestFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	resp, err := g.svc.Transmit(ctx, req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := types.ResponseToStruct(resp)
	return out, ToStatusError(err)
}

func (g grpcTransmission) Routes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := types.RequestFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	view, err := g.svc.Routes(ctx, req.Src, req.Dst)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := types.ToStruct(view)
	return out, ToStatusError(err)
}

// RegisterTransmissionServer registers svc on s.
func RegisterTransmissionServer(s grpc.ServiceRegistrar, svc *TransmissionService) {
	s.RegisterService(&transmissionServiceDesc, grpcTransmission{svc: svc})
}

func transmitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransmissionServer).Transmit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TransmitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransmissionServer).Transmit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func routesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransmissionServer).Routes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RoutesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransmissionServer).Routes(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var transmissionServiceDesc = grpc.ServiceDesc{
	ServiceName: TransmissionServiceName,
	HandlerType: (*TransmissionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Transmit", Handler: transmitHandler},
		{MethodName: "Routes", Handler: routesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meshroute/nbi/v1/transmission.proto",
}

// TransmissionClient calls a remote TransmissionService.
type TransmissionClient struct {
	cc grpc.ClientConnInterface
}

// NewTransmissionClient wraps cc.
func NewTransmissionClient(cc grpc.ClientConnInterface) *TransmissionClient {
	return &TransmissionClient{cc: cc}
}

// Transmit invokes the Transmit RPC.
func (c *TransmissionClient) Transmit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TransmitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Routes invokes the Routes RPC.
func (c *TransmissionClient) Routes(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RoutesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
