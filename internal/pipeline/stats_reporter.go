package pipeline

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"riemannpub/internal/publisher"
)

const statsScrapeTimeout = 5 * time.Second

// statsSource is the publisher surface the stats reporter drives.
type statsSource interface {
	CollectStats(ctx context.Context, collector publisher.StatsCollector)
	PublishFloat64(ctx context.Context, metric string, timestamp int64, value float64, tags map[string]string, seriesID []byte) publisher.Ack
}

type statsReporterConfig struct {
	Interval time.Duration
	Publish  bool
	Host     string
}

// statsReporter scrapes publisher self-metrics on a fixed interval.
// Every scrape is logged; with Publish set samples also go through the publisher.
type statsReporter struct {
	cfg    statsReporterConfig
	source statsSource
	logger *slog.Logger
	now    func() time.Time
}

func newStatsReporter(cfg statsReporterConfig, source statsSource, logger *slog.Logger) *statsReporter {
	return &statsReporter{
		cfg:    cfg,
		source: source,
		logger: logger.With(slog.String("component", "stats")),
		now:    time.Now,
	}
}

// run reports until ctx is canceled.
// Params: ctx lifecycle context.
// Returns: nil on stop.
func (r *statsReporter) run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

// report performs one scrape.
// Params: ctx lifecycle context.
// Returns: none.
func (r *statsReporter) report(ctx context.Context) {
	scrapeCtx, cancel := context.WithTimeout(ctx, statsScrapeTimeout)
	defer cancel()

	snapshot := &publisher.StatsSnapshot{}
	r.source.CollectStats(scrapeCtx, snapshot)
	stats := snapshot.Stats()

	attrs := make([]any, 0, len(stats))
	for _, stat := range stats {
		attrs = append(attrs, slog.Float64(statLogKey(stat), stat.Value))
	}
	r.logger.Info("exporter stats", attrs...)

	if !r.cfg.Publish {
		return
	}
	timestamp := r.now().Unix()
	for _, stat := range stats {
		tags := make(map[string]string, len(stat.Tags)+1)
		maps.Copy(tags, stat.Tags)
		tags["host"] = r.cfg.Host
		r.source.PublishFloat64(ctx, stat.Name, timestamp, stat.Value, tags, nil)
	}
}

// statLogKey drops the shared prefix and appends tag values in key order.
func statLogKey(stat publisher.Stat) string {
	key := strings.TrimPrefix(stat.Name, publisher.StatPrefix)
	if len(stat.Tags) == 0 {
		return key
	}
	values := make([]string, 0, len(stat.Tags))
	for _, tagKey := range slices.Sorted(maps.Keys(stat.Tags)) {
		values = append(values, stat.Tags[tagKey])
	}
	return key + "[" + strings.Join(values, ",") + "]"
}
