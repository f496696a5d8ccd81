package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/meshroute/core"
	"github.com/signalsfoundry/meshroute/internal/routing"
	"github.com/signalsfoundry/meshroute/internal/transmit"
)

var (
	_ core.MetricsRecorder     = (*SimulatorCollector)(nil)
	_ transmit.MetricsRecorder = (*SimulatorCollector)(nil)
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewNBICollector(reg)
	if err != nil {
		t.Fatalf("NewNBICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/meshroute.nbi.v1.TransmissionService/Transmit"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("TransmissionService", "Transmit", "OK")); got != 1 {
		t.Fatalf("nbi_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "nbi_request_duration_seconds", map[string]string{
		"service": "TransmissionService",
		"method":  "Transmit",
	}); count != 1 {
		t.Fatalf("nbi_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewNBICollector(reg)
	if err != nil {
		t.Fatalf("NewNBICollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/meshroute.nbi.v1.TransmissionService/Transmit"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.FailedPrecondition, "no route")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("TransmissionService", "Transmit", "FailedPrecondition")); got != 1 {
		t.Fatalf("nbi_requests_total error label = %v, want 1", got)
	}
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewNBICollector(reg)
	if err != nil {
		t.Fatalf("NewNBICollector: %v", err)
	}
	h := collector.HTTPMiddleware("transmit", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/transmit", nil))

	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("transmit", "POST", "422")); got != 1 {
		t.Fatalf("nbi_http_requests_total = %v, want 1", got)
	}
}

func TestSimulatorCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimulatorCollector(reg)
	if err != nil {
		t.Fatalf("NewSimulatorCollector: %v", err)
	}
	c.SetNodeState(63, 0.25)
	c.IncNodeFaults()
	c.IncNodeFaults()
	c.IncRecoveries()
	c.IncLinkQueries(false)
	c.IncLinkQueries(true)
	c.IncLinkQueries(true)
	c.ObserveEvaluation(routing.EvalAccepted)
	c.IncTransmissions(string(transmit.OutcomeDelivered))
	c.AddRouteFragments("NE", 4)
	c.AddRouteFragments("NE", 0)
	c.ObserveDecision(2 * time.Millisecond)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"active", testutil.ToFloat64(c.ActiveNodes), 63},
		{"mean load", testutil.ToFloat64(c.MeanLoad), 0.25},
		{"faults", testutil.ToFloat64(c.NodeFaults), 2},
		{"recoveries", testutil.ToFloat64(c.Recoveries), 1},
		{"links up", testutil.ToFloat64(c.LinkQueries.WithLabelValues("up")), 1},
		{"links down", testutil.ToFloat64(c.LinkQueries.WithLabelValues("down")), 2},
		{"evaluations", testutil.ToFloat64(c.RouteEvaluations.WithLabelValues(string(routing.EvalAccepted))), 1},
		{"transmissions", testutil.ToFloat64(c.Transmissions.WithLabelValues("delivered")), 1},
		{"fragments", testutil.ToFloat64(c.RouteFragments.WithLabelValues("NE")), 4},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Fatalf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
	if count := histogramSampleCount(t, reg, "routing_decision_duration_seconds", nil); count != 1 {
		t.Fatalf("routing_decision_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestCollectorsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewSimulatorCollector(reg); err != nil {
		t.Fatalf("NewSimulatorCollector: %v", err)
	}
	again, err := NewSimulatorCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimulatorCollector: %v", err)
	}
	again.IncNodeFaults()
	nbi, err := NewNBICollector(reg)
	if err != nil {
		t.Fatalf("NewNBICollector: %v", err)
	}

	rr := httptest.NewRecorder()
	nbi.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "constellation_node_faults_total 1") {
		t.Fatalf("/metrics missing fault counter:\n%s", rr.Body.String())
	}
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"/meshroute.nbi.v1.TransmissionService/Transmit": {"TransmissionService", "Transmit"},
		"":         {"unknown", "unknown"},
		"/nothing": {"unknown", "unknown"},
	}
	for in, want := range cases {
		svc, m := SplitMethod(in)
		if svc != want[0] || m != want[1] {
			t.Fatalf("SplitMethod(%q) = %s, %s, want %s, %s", in, svc, m, want[0], want[1])
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
