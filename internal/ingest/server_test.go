package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"riemannpub/internal/publisher"
)

type publishedCall struct {
	metric    string
	timestamp int64
	isInt     bool
	value     float64
	tags      map[string]string
}

type recordingSink struct {
	mu    sync.Mutex
	calls []publishedCall
}

func (s *recordingSink) Version() string { return "test-version" }

func (s *recordingSink) CollectStats(_ context.Context, collector publisher.StatsCollector) {
	collector.Record(publisher.StatPrefix+"points.sent", 3, nil)
	collector.Record(publisher.StatPrefix+"endpoint.connected", 1, map[string]string{"endpoint": "r1:5555"})
}

func (s *recordingSink) PublishInt64(_ context.Context, metric string, timestamp int64, value int64, tags map[string]string, _ []byte) publisher.Ack {
	s.record(publishedCall{metric: metric, timestamp: timestamp, isInt: true, value: float64(value), tags: tags})
	return publisher.Ack{}
}

func (s *recordingSink) PublishFloat64(_ context.Context, metric string, timestamp int64, value float64, tags map[string]string, _ []byte) publisher.Ack {
	s.record(publishedCall{metric: metric, timestamp: timestamp, value: value, tags: tags})
	return publisher.Ack{}
}

func (s *recordingSink) record(call publishedCall) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []publishedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishedCall(nil), s.calls...)
}

func newTestServer(t *testing.T, maxBody int64) (*Server, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	server, err := NewServer(Options{Listen: "127.0.0.1:0", MaxBody: maxBody}, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return server, sink
}

// TestServer_PutRoutesByValueType verifies int/float dispatch and 204 response.
// Params: testing.T for assertions.
// Returns: none.
func TestServer_PutRoutesByValueType(t *testing.T) {
	server, sink := newTestServer(t, 0)

	body := `[{"metric":"cpu.load","timestamp":10,"value":5,"tags":{"host":"web01","state":"ok"}},
		{"metric":"disk.used","timestamp":11,"value":0.5}]`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, routePut, strings.NewReader(body)))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	calls := sink.snapshot()
	if len(calls) != 2 {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if !calls[0].isInt || calls[0].metric != "cpu.load" || calls[0].tags["state"] != "ok" {
		t.Fatalf("unexpected int call: %+v", calls[0])
	}
	if calls[1].isInt || calls[1].value != 0.5 || calls[1].timestamp != 11 {
		t.Fatalf("unexpected float call: %+v", calls[1])
	}
}

// TestServer_PutRejectsMalformedBatch verifies a bad item publishes nothing.
// Params: testing.T for assertions.
// Returns: none.
func TestServer_PutRejectsMalformedBatch(t *testing.T) {
	server, sink := newTestServer(t, 0)

	body := `[{"metric":"ok","timestamp":1,"value":1},{"metric":"bad","timestamp":1,"value":"x"}]`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, routePut, strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var decoded errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if decoded.Error.Code != http.StatusBadRequest || !strings.Contains(decoded.Error.Message, "items[1]") {
		t.Fatalf("unexpected error body: %+v", decoded)
	}
	if calls := sink.snapshot(); len(calls) != 0 {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

// TestServer_PutEnforcesMaxBody verifies oversized payload rejection.
// Params: testing.T for assertions.
// Returns: none.
func TestServer_PutEnforcesMaxBody(t *testing.T) {
	server, sink := newTestServer(t, 16)

	body := `{"metric":"cpu.load","timestamp":10,"value":5}`
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, routePut, strings.NewReader(body)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if calls := sink.snapshot(); len(calls) != 0 {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

// TestServer_StatsAndVersion verifies read-only routes.
// Params: testing.T for assertions.
// Returns: none.
func TestServer_StatsAndVersion(t *testing.T) {
	server, _ := newTestServer(t, 0)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routeStats, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected stats status: %d", rec.Code)
	}
	var stats []publisher.Stat
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(stats) != 2 || stats[1].Tags["endpoint"] != "r1:5555" {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routeVersion, nil))
	if !strings.Contains(rec.Body.String(), "test-version") {
		t.Fatalf("unexpected version body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routePut, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected GET put status: %d", rec.Code)
	}
}

// TestServer_RunStopsOnCancel verifies serving over a real listener and graceful stop.
// Params: testing.T for assertions.
// Returns: none.
func TestServer_RunStopsOnCancel(t *testing.T) {
	server, sink := newTestServer(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()

	resp, err := http.Post("http://"+server.Addr()+routePut, contentTypeJSON, strings.NewReader(`{"metric":"m","timestamp":1,"value":2}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if calls := sink.snapshot(); len(calls) != 1 {
		t.Fatalf("unexpected calls: %+v", calls)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting ingest server stop")
	}
}
