package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"riemannpub/internal/publisher"
)

const (
	defaultInterval = 5 * time.Second
	stopTimeout     = 3 * time.Second

	// OverallService is the empty service name checked by default health probes.
	OverallService = ""
	shardPrefix    = "riemann.shard."
)

// EndpointSource reports per-shard connection liveness.
type EndpointSource interface {
	Endpoints() []publisher.EndpointStatus
}

// Options configures Server.
type Options struct {
	Listen   string
	Interval time.Duration
}

// Server publishes endpoint liveness through the standard gRPC health service.
// The overall service is SERVING while at least one shard is connected.
type Server struct {
	interval time.Duration
	source   EndpointSource
	ln       net.Listener
	grpc     *grpc.Server
	health   *grpchealth.Server
	logger   *slog.Logger
}

// ShardService returns the health service name of one shard.
// Params: index shard index.
// Returns: service name used in HealthCheckRequest.
func ShardService(index int) string {
	return shardPrefix + strconv.Itoa(index)
}

// NewServer binds listen address and registers health service.
// Params: opts listen and refresh interval; source publisher endpoints; logger root logger.
// Returns: server or bind error.
func NewServer(opts Options, source EndpointSource, logger *slog.Logger) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("health endpoint source is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", opts.Listen, err)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		interval: interval,
		source:   source,
		ln:       ln,
		grpc:     grpcServer,
		health:   healthServer,
		logger:   logger.With(slog.String("component", "health")),
	}
	s.refresh()
	return s, nil
}

// Addr returns bound listener address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops a server that never ran.
func (s *Server) Close() {
	s.grpc.Stop()
	_ = s.ln.Close()
}

// Run serves health checks and refreshes statuses until ctx is canceled.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; serve error otherwise.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(s.ln)
	}()
	s.logger.Info("health server started", slog.String("listen", s.Addr()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.stop()
			<-errCh
			return nil
		case <-ticker.C:
			s.refresh()
		case err := <-errCh:
			if err == nil {
				return nil
			}
			s.logger.Error("health server stopped unexpectedly", slog.String("error", err.Error()))
			return err
		}
	}
}

// refresh copies shard liveness into the health registry.
func (s *Server) refresh() {
	endpoints := s.source.Endpoints()
	overall := healthpb.HealthCheckResponse_NOT_SERVING
	for _, endpoint := range endpoints {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if endpoint.Connected {
			status = healthpb.HealthCheckResponse_SERVING
			overall = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(ShardService(endpoint.Index), status)
	}
	s.health.SetServingStatus(OverallService, overall)
}

// stop drains in-flight checks, falling back to hard stop.
func (s *Server) stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.grpc.Stop()
	}
}
