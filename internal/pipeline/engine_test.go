package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"riemannpub/internal/config"
	"riemannpub/internal/riemann/riemanntest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig builds a validated-equivalent config pointing at one loopback endpoint.
// Params: port riemann port.
// Returns: config snapshot.
func testConfig(port int) *config.Config {
	return &config.Config{
		Riemann: config.RiemannConfig{
			Hosts:   "127.0.0.1",
			Port:    port,
			Timeout: config.Duration{Duration: time.Second},
		},
		Reconnect: config.ReconnectConfig{
			Window: config.Duration{Duration: 5 * time.Second},
		},
		Filter: config.FilterConfig{
			Drop: []string{"debug.*"},
		},
		Ingest: config.IngestConfig{
			Listen:  "127.0.0.1:0",
			MaxBody: 1024,
		},
		Health: config.HealthConfig{
			Listen:   "127.0.0.1:0",
			Interval: config.Duration{Duration: time.Second},
		},
	}
}

// TestEngine_RunPublishesAndShutsDown verifies connect, send and close across Run lifecycle.
// Params: testing.T for assertions.
// Returns: none.
func TestEngine_RunPublishesAndShutsDown(t *testing.T) {
	server := riemanntest.NewServer(t)
	cfg := testConfig(server.Port())
	cfg.Ingest.Enabled = true
	cfg.Health.Enabled = true

	engine, err := NewFromConfig(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if len(engine.runners) != 2 {
		t.Fatalf("unexpected runners: %d", len(engine.runners))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx)
	}()

	waitConnected(t, engine, true)

	pub := engine.Publisher()
	pub.PublishFloat64(ctx, "debug.trace", 1, 1, nil, nil)
	pub.PublishFloat64(ctx, "cpu.load", 1700000000, 0.5, map[string]string{"host": "web01"}, nil)

	events, ok := server.WaitEvents(1, 2*time.Second)
	if !ok {
		t.Fatalf("event did not arrive")
	}
	if events[0].Service != "cpu.load" || *events[0].Host != "web01" {
		t.Fatalf("unexpected event: %+v", events[0])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting engine stop")
	}
	waitConnected(t, engine, false)

	if got := server.Events(); len(got) != 1 {
		t.Fatalf("filtered metric must not be sent: %d events", len(got))
	}
}

// TestNewFromConfig_IngestBindFailure verifies build error on occupied ingest port.
// Params: testing.T for assertions.
// Returns: none.
func TestNewFromConfig_IngestBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	cfg := testConfig(5555)
	cfg.Health.Enabled = true
	cfg.Ingest.Enabled = true
	cfg.Ingest.Listen = busy.Addr().String()

	_, err = NewFromConfig(context.Background(), cfg, quietLogger())
	if err == nil {
		t.Fatalf("expected ingest bind error")
	}
	if !strings.Contains(err.Error(), "build ingest server") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestNewFromConfig_RejectsBadFilter verifies filter compile errors surface.
// Params: testing.T for assertions.
// Returns: none.
func TestNewFromConfig_RejectsBadFilter(t *testing.T) {
	cfg := testConfig(5555)
	cfg.Filter.DropPoint = []string{"value>abc"}

	if _, err := NewFromConfig(context.Background(), cfg, quietLogger()); err == nil || !strings.Contains(err.Error(), "build filter") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestEngine_RunWithoutSurfaces verifies Run blocks until cancel with endpoint down.
// Params: testing.T for assertions.
// Returns: none.
func TestEngine_RunWithoutSurfaces(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	_ = listener.Close()

	engine, err := NewFromConfig(context.Background(), testConfig(port), quietLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := engine.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if engine.Publisher().Endpoints()[0].Connected {
		t.Fatalf("endpoint must stay down")
	}
}

func waitConnected(t *testing.T, engine *Engine, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if engine.Publisher().Endpoints()[0].Connected == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("endpoint connected state did not become %v", want)
}
