package riemann_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"riemannpub/internal/riemann"
	"riemannpub/internal/riemann/riemanntest"
)

// TestTCPClient_SendDeliversEvent validates connect and acknowledged send.
// Params: testing.T for assertions.
// Returns: none.
func TestTCPClient_SendDeliversEvent(t *testing.T) {
	server := riemanntest.NewServer(t)
	client := riemann.NewTCPClient(server.Addr(), time.Second)
	defer client.Close()

	if client.IsConnected() {
		t.Fatalf("client must start disconnected")
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("expected connected client")
	}

	err := client.Send(context.Background(), &riemann.Event{
		Host:    riemann.StringPtr("web01"),
		Service: "cpu.load",
		Metric:  int64(3),
		Tags:    []string{"prod"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	events, ok := server.WaitEvents(1, time.Second)
	if !ok {
		t.Fatalf("event did not arrive")
	}
	if events[0].Service != "cpu.load" || events[0].Metric != int64(3) {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

// TestTCPClient_SendWithoutConnection validates not-connected guard.
// Params: testing.T for assertions.
// Returns: none.
func TestTCPClient_SendWithoutConnection(t *testing.T) {
	client := riemann.NewTCPClient("127.0.0.1:1", time.Second)
	err := client.Send(context.Background(), &riemann.Event{Service: "x", Metric: 1.0})
	if !errors.Is(err, riemann.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

// TestTCPClient_ServerRejectKeepsConnection validates ok=false handling.
// Params: testing.T for assertions.
// Returns: none.
func TestTCPClient_ServerRejectKeepsConnection(t *testing.T) {
	server := riemanntest.NewServer(t)
	server.Reject("bad event")
	client := riemann.NewTCPClient(server.Addr(), time.Second)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err := client.Send(context.Background(), &riemann.Event{Service: "x", Metric: 1.0})
	if !errors.Is(err, riemann.ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("server rejection must not drop connection")
	}
}

// TestTCPClient_IOErrorMarksDown validates connection drop detection and reconnect.
// Params: testing.T for assertions.
// Returns: none.
func TestTCPClient_IOErrorMarksDown(t *testing.T) {
	server := riemanntest.NewServer(t)
	client := riemann.NewTCPClient(server.Addr(), time.Second)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// Wait for the accept so DropConnections sees it.
	if err := client.Send(context.Background(), &riemann.Event{Service: "warmup", Metric: 1.0}); err != nil {
		t.Fatalf("warmup send: %v", err)
	}
	server.DropConnections()

	if err := client.Send(context.Background(), &riemann.Event{Service: "x", Metric: 1.0}); err == nil {
		t.Fatalf("expected send error after server dropped connection")
	}
	if client.IsConnected() {
		t.Fatalf("expected client marked down after I/O error")
	}

	if err := client.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if err := client.Send(context.Background(), &riemann.Event{Service: "after", Metric: 2.0}); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
}

// TestTCPClient_ConnectUsesDialer validates dialer override and dial error wrapping.
// Params: testing.T for assertions.
// Returns: none.
func TestTCPClient_ConnectUsesDialer(t *testing.T) {
	dialErr := errors.New("refused")
	client := riemann.NewTCPClient("riemann.invalid:5555", time.Second).
		WithDialer(func(context.Context, string, string) (net.Conn, error) {
			return nil, dialErr
		})

	err := client.Connect(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("expected wrapped dial error, got %v", err)
	}
	if client.IsConnected() {
		t.Fatalf("client must stay disconnected")
	}
}
