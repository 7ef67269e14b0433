package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"riemannpub/internal/config"
	"riemannpub/internal/health"
	"riemannpub/internal/ingest"
	"riemannpub/internal/match"
	"riemannpub/internal/publisher"
)

const shutdownTimeout = 5 * time.Second

// Engine owns the publisher and every surface feeding or observing it.
// Params: publisher, runner list and logger.
// Returns: exporter runtime engine.
type Engine struct {
	publisher *publisher.Publisher
	runners   []runner
	logger    *slog.Logger
}

type runner interface {
	run(context.Context) error
}

// runFunc adapts exported Run methods to runner.
type runFunc func(context.Context) error

func (f runFunc) run(ctx context.Context) error {
	return f(ctx)
}

// NewFromConfig validates runtime dependencies and binds listeners.
// Params: ctx build context; cfg validated config; logger root logger.
// Returns: engine ready to Run or build error with every bound listener released.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter, err := match.NewFilter(cfg.Filter.Keep, cfg.Filter.Drop, cfg.Filter.DropPoint)
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}

	opts := cfg.PublisherOptions(filter)
	opts.Logger = logger
	pub, err := publisher.New(opts)
	if err != nil {
		return nil, fmt.Errorf("build publisher: %w", err)
	}

	engine := &Engine{
		publisher: pub,
		logger:    logger,
	}

	var release []func()
	cleanup := func() {
		for _, fn := range release {
			fn()
		}
	}

	if cfg.Health.Enabled {
		server, err := health.NewServer(health.Options{
			Listen:   cfg.Health.Listen,
			Interval: cfg.Health.Interval.Duration,
		}, pub, logger)
		if err != nil {
			return nil, fmt.Errorf("build health server: %w", err)
		}
		release = append(release, server.Close)
		engine.runners = append(engine.runners, runFunc(server.Run))
	}

	if cfg.Ingest.Enabled {
		server, err := ingest.NewServer(ingest.Options{
			Listen:      cfg.Ingest.Listen,
			MaxBody:     cfg.Ingest.MaxBody,
			ReadTimeout: cfg.Ingest.ReadTimeout.Duration,
		}, pub, logger)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("build ingest server: %w", err)
		}
		engine.runners = append(engine.runners, runFunc(server.Run))
	}

	if cfg.Stats.Enabled {
		engine.runners = append(engine.runners, newStatsReporter(statsReporterConfig{
			Interval: cfg.Stats.Interval.Duration,
			Publish:  cfg.Stats.Publish,
			Host:     cfg.Stats.Host,
		}, pub, logger))
	}

	return engine, nil
}

// Publisher returns the engine publisher.
func (e *Engine) Publisher() *publisher.Publisher {
	return e.publisher
}

// Run connects the pool, runs every surface and closes connections on stop.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.publisher.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize publisher: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(len(e.runners))
	for _, r := range e.runners {
		go func(activeRunner runner) {
			defer wg.Done()
			if err := activeRunner.run(ctx); err != nil {
				e.logger.Error("runner stopped with error", slog.String("error", err.Error()))
			}
		}(r)
	}

	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.publisher.Shutdown(shutdownCtx); err != nil {
		e.logger.Warn("publisher shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}
