package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"riemannpub/internal/match"
	"riemannpub/internal/riemann"
)

// ErrEmptyMetric reports a data point without metric name.
var ErrEmptyMetric = errors.New("metric name is empty")

// Options configures one Publisher.
type Options struct {
	Hosts           string
	Port            int
	Timeout         time.Duration
	SendTime        bool
	Attributes      map[string]string
	ReconnectWindow time.Duration
	Rearm           bool
	Filter          *match.Filter
	Logger          *slog.Logger
	Now             func() time.Time
	NewTransport    TransportFactory
}

// Publisher forwards data points to a sharded pool of Riemann endpoints.
// Params: none.
// Returns: fire-and-forget sink safe for concurrent use.
type Publisher struct {
	logger     *slog.Logger
	pool       *Pool
	filter     *match.Filter
	sendTime   bool
	attributes []riemann.Attribute
	stats      *publisherStats
}

// New validates endpoint configuration and builds disconnected transports.
// Params: opts endpoint list, policy and collaborators.
// Returns: publisher or configuration error.
func New(opts Options) (*Publisher, error) {
	endpoints, err := ParseEndpoints(opts.Hosts, opts.Port)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.NewTransport
	if factory == nil {
		factory = NewTCPTransport
	}

	transports := make([]Transport, 0, len(endpoints))
	for _, endpoint := range endpoints {
		transports = append(transports, factory(endpoint.Address(), opts.Timeout))
	}

	return &Publisher{
		logger:     logger.With(slog.String("component", "riemann_publisher")),
		pool:       NewPool(transports, opts.ReconnectWindow, opts.Rearm, opts.Now),
		filter:     opts.Filter,
		sendTime:   opts.SendTime,
		attributes: sortedAttributes(opts.Attributes),
		stats:      newPublisherStats(),
	}, nil
}

// Initialize connects every endpoint; connect failures are logged and recovered later.
// Params: ctx dial context.
// Returns: always nil; configuration is validated in New.
func (p *Publisher) Initialize(ctx context.Context) error {
	connected := p.pool.ConnectAll(ctx, p.logger)
	p.logger.Info(
		"riemann publisher initialized",
		slog.Int("endpoints", p.pool.Size()),
		slog.Int("connected", connected),
		slog.String("version", Version),
	)
	return nil
}

// Shutdown closes all connections without draining.
// Params: ctx unused, kept for lifecycle symmetry.
// Returns: first close error.
func (p *Publisher) Shutdown(context.Context) error {
	if err := p.pool.Close(); err != nil {
		return fmt.Errorf("close riemann connections: %w", err)
	}
	return nil
}

// Version returns exporter version.
func (p *Publisher) Version() string {
	return Version
}

// CollectStats reports counters, endpoint liveness and process usage.
// Params: ctx scrape context; collector destination.
// Returns: none.
func (p *Publisher) CollectStats(ctx context.Context, collector StatsCollector) {
	p.stats.collect(ctx, collector, p.pool)
}

// Endpoints returns current per-shard liveness.
func (p *Publisher) Endpoints() []EndpointStatus {
	return p.pool.Status()
}

// PublishInt64 forwards one integer data point.
// Params: ctx send context; metric name; timestamp passed through; value; tags read only; seriesID unused.
// Returns: resolved acknowledgement.
func (p *Publisher) PublishInt64(
	ctx context.Context,
	metric string,
	timestamp int64,
	value int64,
	tags map[string]string,
	seriesID []byte,
) Ack {
	p.publish(ctx, metric, timestamp, value, float64(value), tags)
	return Ack{}
}

// PublishFloat64 forwards one floating-point data point.
// Params: ctx send context; metric name; timestamp passed through; value; tags read only; seriesID unused.
// Returns: resolved acknowledgement.
func (p *Publisher) PublishFloat64(
	ctx context.Context,
	metric string,
	timestamp int64,
	value float64,
	tags map[string]string,
	seriesID []byte,
) Ack {
	p.publish(ctx, metric, timestamp, value, value, tags)
	return Ack{}
}

// PublishAnnotation accepts and ignores annotations.
// Params: ctx unused; annotation payload.
// Returns: resolved acknowledgement.
func (p *Publisher) PublishAnnotation(_ context.Context, annotation Annotation) Ack {
	p.stats.annotations.Inc(1)
	p.logger.Debug("annotation ignored", slog.String("tsuid", annotation.TSUID))
	return Ack{}
}

// publish runs split, shard pick and send for one point; every failure ends here.
// Params: ctx send context; metric; timestamp; value int64 or float64; numeric filter value; tags.
// Returns: none.
func (p *Publisher) publish(
	ctx context.Context,
	metric string,
	timestamp int64,
	value any,
	numeric float64,
	tags map[string]string,
) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.stats.panics.Inc(1)
			p.logger.Error(
				"riemann publish panic",
				slog.String("metric", metric),
				slog.String("error", fmt.Sprint(recovered)),
			)
		}
	}()

	p.stats.received.Inc(1)

	if metric == "" {
		p.dataError(metric, ErrEmptyMetric)
		return
	}
	if !p.filter.Allow(match.Point{Metric: metric, Value: numeric, Tags: tags}) {
		p.stats.filtered.Inc(1)
		return
	}

	fields, err := splitTags(tags)
	if err != nil {
		p.dataError(metric, err)
		return
	}

	target := p.pool.pick(metric)
	if !target.transport.IsConnected() {
		p.stats.notDelivered.Inc(1)
		p.observeDown(ctx, target)
		return
	}

	event := buildEvent(metric, value, timestamp, fields, p.sendTime, p.attributes)
	started := time.Now()
	if err := target.transport.Send(ctx, event); err != nil {
		p.stats.sendFailures.Inc(1)
		p.logger.Warn(
			"riemann send failed",
			slog.String("metric", metric),
			slog.Int("shard", target.index),
			slog.String("endpoint", target.transport.Address()),
			slog.String("error", err.Error()),
		)
		return
	}
	p.stats.sendLatencyMicros.Update(time.Since(started).Microseconds())
	p.stats.sent.Inc(1)
}

// observeDown applies the shard reconnect policy and logs its outcome.
// Params: ctx reconnect context; target down shard.
// Returns: none.
func (p *Publisher) observeDown(ctx context.Context, target *shard) {
	outcome, err := target.gate.observeDown(ctx, target.transport.Reconnect)
	logger := p.logger.With(
		slog.Int("shard", target.index),
		slog.String("endpoint", target.transport.Address()),
	)

	switch outcome {
	case outcomeArmed:
		logger.Debug("riemann endpoint down, reconnect armed")
	case outcomeReconnected:
		p.stats.reconnectAttempts.Inc(1)
		logger.Info("riemann reconnected")
	case outcomeFailed:
		p.stats.reconnectAttempts.Inc(1)
		p.stats.reconnectFailures.Inc(1)
		logger.Warn("riemann reconnect failed", slog.String("error", err.Error()))
	}
}

func (p *Publisher) dataError(metric string, err error) {
	p.stats.dataErrors.Inc(1)
	p.logger.Warn("riemann data point rejected", slog.String("metric", metric), slog.String("error", err.Error()))
}

// sortedAttributes converts static attributes into a stable ordered list.
func sortedAttributes(values map[string]string) []riemann.Attribute {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]riemann.Attribute, 0, len(keys))
	for _, key := range keys {
		out = append(out, riemann.Attribute{Key: key, Value: values[key]})
	}
	return out
}
