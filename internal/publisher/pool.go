package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"riemannpub/internal/riemann"
)

// ErrConfig reports an invalid endpoint configuration.
var ErrConfig = errors.New("invalid riemann endpoint configuration")

// Transport is one endpoint connection.
// Params: none.
// Returns: connection with explicit lifecycle and liveness owned by the implementation.
type Transport interface {
	Address() string
	Connect(ctx context.Context) error
	IsConnected() bool
	Reconnect(ctx context.Context) error
	Send(ctx context.Context, event *riemann.Event) error
	Close() error
}

// TransportFactory builds a transport for one endpoint address.
type TransportFactory func(address string, timeout time.Duration) Transport

// NewTCPTransport is the default factory backed by riemann.TCPClient.
func NewTCPTransport(address string, timeout time.Duration) Transport {
	return riemann.NewTCPClient(address, timeout)
}

// Endpoint is one downstream Riemann host:port pair.
type Endpoint struct {
	Host string
	Port int
}

// Address returns endpoint host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoints splits a comma-separated host list and applies the shared port.
// Params: hosts comma-separated host names; port shared port 1..65535.
// Returns: ordered endpoints or ErrConfig wrap.
func ParseEndpoints(hosts string, port int) ([]Endpoint, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range 1..65535", ErrConfig, port)
	}
	if strings.TrimSpace(hosts) == "" {
		return nil, fmt.Errorf("%w: host list is empty", ErrConfig)
	}

	parts := strings.Split(hosts, ",")
	endpoints := make([]Endpoint, 0, len(parts))
	for idx, part := range parts {
		host := strings.TrimSpace(part)
		if host == "" {
			return nil, fmt.Errorf("%w: host[%d] is empty", ErrConfig, idx)
		}
		if strings.ContainsAny(host, " \t/") {
			return nil, fmt.Errorf("%w: host[%d] %q is malformed", ErrConfig, idx, host)
		}
		endpoints = append(endpoints, Endpoint{Host: host, Port: port})
	}
	return endpoints, nil
}

// shard is one connection slot with its own reconnect gate.
type shard struct {
	index     int
	transport Transport
	gate      *reconnectGate
}

// Pool owns a fixed set of endpoint connections indexed 0..N-1.
type Pool struct {
	shards []*shard
}

// NewPool wraps transports into shards, each with an independent reconnect gate.
// Params: transports ordered connections; window cool-down; rearm re-arm flag; now clock.
// Returns: pool of len(transports) shards.
func NewPool(transports []Transport, window time.Duration, rearm bool, now func() time.Time) *Pool {
	pool := &Pool{shards: make([]*shard, 0, len(transports))}
	for idx, transport := range transports {
		pool.shards = append(pool.shards, &shard{
			index:     idx,
			transport: transport,
			gate:      newReconnectGate(window, rearm, now),
		})
	}
	return pool
}

// Size returns shard count.
func (p *Pool) Size() int {
	return len(p.shards)
}

// pick returns the shard for metric.
func (p *Pool) pick(metric string) *shard {
	return p.shards[SelectShard(metric, len(p.shards))]
}

// ConnectAll dials every endpoint, logging failures without aborting.
// Params: ctx dial context; logger destination for connect failures.
// Returns: number of connected shards.
func (p *Pool) ConnectAll(ctx context.Context, logger *slog.Logger) int {
	connected := 0
	for _, s := range p.shards {
		if err := s.transport.Connect(ctx); err != nil {
			logger.Warn(
				"riemann connect failed",
				slog.Int("shard", s.index),
				slog.String("endpoint", s.transport.Address()),
				slog.String("error", err.Error()),
			)
			continue
		}
		connected++
		logger.Info("riemann connected", slog.Int("shard", s.index), slog.String("endpoint", s.transport.Address()))
	}
	return connected
}

// EndpointStatus is one shard liveness snapshot.
type EndpointStatus struct {
	Index     int    `json:"index"`
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

// Status returns current liveness of every shard.
func (p *Pool) Status() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.shards))
	for _, s := range p.shards {
		out = append(out, EndpointStatus{
			Index:     s.index,
			Address:   s.transport.Address(),
			Connected: s.transport.IsConnected(),
		})
	}
	return out
}

// Close closes every transport without draining in-flight sends.
// Params: none.
// Returns: first close error.
func (p *Pool) Close() error {
	var firstErr error
	for _, s := range p.shards {
		if err := s.transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
