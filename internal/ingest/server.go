package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"riemannpub/internal/publisher"
)

const (
	defaultMaxBody     = 1 << 20
	shutdownTimeout    = 5 * time.Second
	readHeaderTimeout  = 5 * time.Second
	contentTypeJSON    = "application/json"
	contentTypeHeader  = "Content-Type"
	routePut           = "/api/put"
	routeStats         = "/api/stats"
	routeVersion       = "/api/version"
	statsScrapeTimeout = 2 * time.Second
)

// Sink is the publisher surface the ingest endpoint drives.
type Sink interface {
	Version() string
	CollectStats(ctx context.Context, collector publisher.StatsCollector)
	PublishInt64(ctx context.Context, metric string, timestamp int64, value int64, tags map[string]string, seriesID []byte) publisher.Ack
	PublishFloat64(ctx context.Context, metric string, timestamp int64, value float64, tags map[string]string, seriesID []byte) publisher.Ack
}

// Options configures Server.
type Options struct {
	Listen      string
	MaxBody     int64
	ReadTimeout time.Duration
}

// Server exposes the put, stats and version routes over HTTP.
// Params: none.
// Returns: runnable HTTP server bound on construction.
type Server struct {
	listen  string
	maxBody int64
	sink    Sink
	ln      net.Listener
	server  *http.Server
	logger  *slog.Logger
}

// NewServer binds the listen address and prepares routes.
// Params: opts listen settings; sink publisher; logger root logger.
// Returns: server or bind error.
func NewServer(opts Options, sink Sink, logger *slog.Logger) (*Server, error) {
	if sink == nil {
		return nil, fmt.Errorf("ingest sink is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", opts.Listen, err)
	}

	s := &Server{
		listen:  opts.Listen,
		maxBody: opts.MaxBody,
		sink:    sink,
		ln:      ln,
		logger:  logger.With(slog.String("component", "ingest")),
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       opts.ReadTimeout,
	}
	return s, nil
}

// Addr returns bound listener address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close releases the listener of a server that never ran.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+routePut, s.handlePut)
	mux.HandleFunc("GET "+routeStats, s.handleStats)
	mux.HandleFunc("GET "+routeVersion, s.handleVersion)
	return mux
}

// Run serves until ctx is canceled.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; error on early serve failures.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.ln)
	}()
	s.logger.Info("ingest server started", slog.String("listen", s.Addr()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("ingest server stopped unexpectedly", slog.String("listen", s.listen), slog.String("error", err.Error()))
		return err
	}
}

// handlePut decodes the whole body first so a malformed batch publishes nothing.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", s.maxBody))
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	points, err := ParsePoints(body)
	if err != nil {
		s.logger.Debug("ingest payload rejected", slog.String("remote", r.RemoteAddr), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	for _, point := range points {
		if point.IsInt {
			s.sink.PublishInt64(ctx, point.Metric, point.Timestamp, point.Int, point.Tags, nil)
			continue
		}
		s.sink.PublishFloat64(ctx, point.Metric, point.Timestamp, point.Float, point.Tags, nil)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statsScrapeTimeout)
	defer cancel()

	snapshot := &publisher.StatsSnapshot{}
	s.sink.CollectStats(ctx, snapshot)
	writeJSON(w, http.StatusOK, snapshot.Stats())
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.sink.Version()})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set(contentTypeHeader, contentTypeJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
