package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/meshroute/internal/config"
	"github.com/signalsfoundry/meshroute/internal/logging"
	"github.com/signalsfoundry/meshroute/internal/nbi"
	"github.com/signalsfoundry/meshroute/internal/nbi/types"
	"github.com/signalsfoundry/meshroute/internal/transmit"
)

func TestNBIServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Default()
	cfg.Constellation.Shape.Planes = 6
	cfg.Constellation.Shape.Slots = 11
	cfg.Server.MetricsAddr = ""

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(runCtx, cfg, logging.Noop(), prometheus.NewRegistry(), grpcLis, httpLis)
	}()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	in, err := types.RequestToStruct(types.TransmitRequest{Payload: []byte("smoke test payload"), Dst: "P1S3"})
	if err != nil {
		t.Fatalf("RequestToStruct: %v", err)
	}
	out, err := nbi.NewTransmissionClient(conn).Transmit(ctx, in, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	var resp transmit.Response
	if err := types.FromStruct(out, &resp); err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	if resp.Meta.OriginalSize != len("smoke test payload") {
		t.Fatalf("original_size = %d, want %d", resp.Meta.OriginalSize, len("smoke test payload"))
	}

	base := "http://" + httpLis.Addr().String()
	health, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", health.StatusCode)
	}

	metrics, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(metrics.Body)
	metrics.Body.Close()
	for _, want := range []string{"nbi_requests_total", "transmit_transmissions_total"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("/metrics missing %s", want)
		}
	}

	stop()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestNewLoggerPrefersEnvironment(t *testing.T) {
	t.Setenv("MESHROUTE_LOG_LEVEL", "error")
	cfg := config.Default()
	cfg.Logging.Level = "debug"
	if newLogger(cfg) == nil {
		t.Fatalf("newLogger returned nil")
	}
}
