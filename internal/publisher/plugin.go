package publisher

import "context"

// Version is the exporter version reported by Plugin.Version.
const Version = "0.1.0"

// Plugin is the lifecycle the host pipeline drives: Initialize at startup,
// Publish* per data point, CollectStats on every scrape, Shutdown at exit.
type Plugin interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Version() string
	CollectStats(ctx context.Context, collector StatsCollector)
	PublishInt64(ctx context.Context, metric string, timestamp int64, value int64, tags map[string]string, seriesID []byte) Ack
	PublishFloat64(ctx context.Context, metric string, timestamp int64, value float64, tags map[string]string, seriesID []byte) Ack
	PublishAnnotation(ctx context.Context, annotation Annotation) Ack
}

var _ Plugin = (*Publisher)(nil)

// Annotation is a free-form note attached to a time range.
type Annotation struct {
	TSUID       string
	StartTime   int64
	EndTime     int64
	Description string
	Notes       string
	Custom      map[string]string
}

var resolved = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Ack is the already-resolved handle returned by every publish call.
// It carries no delivery outcome.
type Ack struct{}

// Done returns a closed channel.
func (Ack) Done() <-chan struct{} {
	return resolved
}
