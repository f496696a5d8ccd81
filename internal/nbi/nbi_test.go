package nbi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/observability"
	"github.com/signalsfoundry/meshroute/internal/sim/state"
	"github.com/signalsfoundry/meshroute/internal/transmit"
	"github.com/signalsfoundry/meshroute/model"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Constellation.Shape = model.Shape{Planes: 6, Slots: 11}
	return cfg
}

func newTestService(t *testing.T) *TransmissionService {
	t.Helper()
	return NewTransmissionService(NewScenarioFactory(testConfig(), logging.Noop()), logging.Noop())
}

// isolatedFactory fails the default source node in every scenario so no
// route can leave it.
func isolatedFactory(t *testing.T) ScenarioFactory {
	t.Helper()
	base := NewScenarioFactory(testConfig(), logging.Noop())
	return func(ctx context.Context) (*state.ScenarioState, error) {
		s, err := base(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Constellation().FailNode(ctx, types.DefaultSrc); err != nil {
			t.Fatalf("FailNode() error = %v", err)
		}
		return s, nil
	}
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) transmit.Response {
	t.Helper()
	var resp transmit.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rr.Body.String())
	}
	return resp
}

func TestHTTPHealth(t *testing.T) {
	h := NewHTTPHandler(newTestService(t), logging.Noop())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID header")
	}
}

func TestHTTPTransmitRawBody(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewNBICollector(reg)
	if err != nil {
		t.Fatalf("NewNBICollector: %v", err)
	}
	h := NewHTTPHandler(newTestService(t), logging.Noop(), WithHTTPMetrics(collector))

	payload := bytes.Repeat([]byte("orbital mesh "), 400)
	req := httptest.NewRequest(http.MethodPost, "/api/transmit?src=P0S0&dst=P2S5", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/octet-stream")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp.Meta.OriginalSize != len(payload) {
		t.Fatalf("original_size = %d, want %d", resp.Meta.OriginalSize, len(payload))
	}
	assigned := 0
	for _, r := range resp.Routes {
		assigned += r.AssignedPackets
	}
	if assigned != resp.Meta.TotalFragments {
		t.Fatalf("assigned %d packets, want %d", assigned, resp.Meta.TotalFragments)
	}
	if resp.Meta.Filename != "" {
		t.Fatalf("filename = %q, want empty for raw body", resp.Meta.Filename)
	}
	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("transmit", "POST", "200")); got != 1 {
		t.Fatalf("nbi_http_requests_total = %v, want 1", got)
	}
}

func TestHTTPTransmitMultipart(t *testing.T) {
	h := NewHTTPHandler(newTestService(t), logging.Noop())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "dir/report.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte(strings.Repeat("telemetry ", 300)))
	_ = mw.WriteField("dst", "P1S3")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/transmit", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp.Meta.Filename != "report.txt" {
		t.Fatalf("filename = %q, want report.txt", resp.Meta.Filename)
	}
	if len(resp.Timeline) == 0 {
		t.Fatalf("empty timeline")
	}
}

func TestHTTPTransmitErrors(t *testing.T) {
	small := newTestService(t)
	small.MaxPayloadBytes = 10

	cases := []struct {
		name string
		svc  *TransmissionService
		url  string
		body string
		want int
	}{
		{"bad src", newTestService(t), "/api/transmit?src=nowhere", "x", http.StatusBadRequest},
		{"out of range", newTestService(t), "/api/transmit?dst=P9S0", "x", http.StatusBadRequest},
		{"too large", small, "/api/transmit", strings.Repeat("x", 100), http.StatusRequestEntityTooLarge},
		{"no route", NewTransmissionService(isolatedFactory(t), nil), "/api/transmit", "payload", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		h := NewHTTPHandler(tc.svc, logging.Noop())
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tc.url, strings.NewReader(tc.body)))
		if rr.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d: %s", tc.name, rr.Code, tc.want, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), `"error"`) {
			t.Fatalf("%s: body = %s, want error object", tc.name, rr.Body.String())
		}
	}
}

func TestHTTPRoutes(t *testing.T) {
	h := NewHTTPHandler(newTestService(t), logging.Noop())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/routes?src=P0S0&dst=P0S3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var view types.DecisionView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Routes) != 3 || view.Routes[0].Strategy != model.NorthEast || view.Routes[0].Hops != 3 {
		t.Fatalf("routes = %+v, want NE/3 first of 3", view.Routes)
	}
	if len(view.Features) != 3 || len(view.Adjacency) != 3 {
		t.Fatalf("features/adjacency = %d/%d, want 3/3", len(view.Features), len(view.Adjacency))
	}
}

func TestHTTPMethodNotAllowed(t *testing.T) {
	h := NewHTTPHandler(newTestService(t), logging.Noop())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/transmit", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func dialBufconn(t *testing.T, svc *TransmissionService) *TransmissionClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
	))
	RegisterTransmissionServer(server, svc)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewTransmissionClient(conn)
}

func TestGRPCTransmit(t *testing.T) {
	client := dialBufconn(t, newTestService(t))
	in, err := types.RequestToStruct(types.TransmitRequest{
		Payload:  bytes.Repeat([]byte{7}, 3000),
		Filename: "blob.bin",
	})
	if err != nil {
		t.Fatalf("RequestToStruct: %v", err)
	}
	out, err := client.Transmit(context.Background(), in)
	if err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	var resp transmit.Response
	if err := types.FromStruct(out, &resp); err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	if resp.Meta.Filename != "blob.bin" || resp.Meta.OriginalSize != 3000 {
		t.Fatalf("meta = %+v", resp.Meta)
	}
	if len(resp.Routes) == 0 {
		t.Fatalf("no routes in response")
	}
}

func TestGRPCErrorsCarryCodes(t *testing.T) {
	client := dialBufconn(t, newTestService(t))
	bad, _ := structpb.NewStruct(map[string]any{"src": "P42S0", "text": "hi"})
	if _, err := client.Transmit(context.Background(), bad); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Transmit(bad src) code = %v, want InvalidArgument", status.Code(err))
	}

	isolated := dialBufconn(t, NewTransmissionService(isolatedFactory(t), nil))
	ok, _ := structpb.NewStruct(map[string]any{"text": "hi"})
	if _, err := isolated.Transmit(context.Background(), ok); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("Transmit(isolated) code = %v, want FailedPrecondition", status.Code(err))
	}
	if _, err := isolated.Routes(context.Background(), ok); status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("Routes(isolated) code = %v, want FailedPrecondition", status.Code(err))
	}
}

func TestScenarioFactoryAdvancesSeed(t *testing.T) {
	f := NewScenarioFactory(testConfig(), logging.Noop())
	a, err := f(context.Background())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer a.Close()
	b, err := f(context.Background())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer b.Close()
	if a.Config().Constellation.Seed == b.Config().Constellation.Seed {
		t.Fatalf("both scenarios used seed %d", a.Config().Constellation.Seed)
	}
}
