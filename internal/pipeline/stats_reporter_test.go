package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"riemannpub/internal/publisher"
)

type publishedStat struct {
	Metric    string
	Timestamp int64
	Value     float64
	Tags      map[string]string
}

type fakeStatsSource struct {
	mu        sync.Mutex
	published []publishedStat
}

func (s *fakeStatsSource) CollectStats(_ context.Context, collector publisher.StatsCollector) {
	collector.Record(publisher.StatPrefix+"points.sent", 7, nil)
	collector.Record(publisher.StatPrefix+"endpoint.connected", 1, map[string]string{"endpoint": "r1:5555"})
}

func (s *fakeStatsSource) PublishFloat64(_ context.Context, metric string, timestamp int64, value float64, tags map[string]string, _ []byte) publisher.Ack {
	s.mu.Lock()
	s.published = append(s.published, publishedStat{Metric: metric, Timestamp: timestamp, Value: value, Tags: tags})
	s.mu.Unlock()
	return publisher.Ack{}
}

func (s *fakeStatsSource) snapshot() []publishedStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishedStat(nil), s.published...)
}

// TestStatsReporter_PublishAddsHostTag verifies stats are republished with host tag.
// Params: testing.T for assertions.
// Returns: none.
func TestStatsReporter_PublishAddsHostTag(t *testing.T) {
	source := &fakeStatsSource{}
	reporter := newStatsReporter(statsReporterConfig{Interval: time.Minute, Publish: true, Host: "exporter01"}, source, quietLogger())
	reporter.now = func() time.Time { return time.Unix(1700000000, 0) }

	reporter.report(context.Background())

	want := []publishedStat{
		{Metric: "riemannpub.points.sent", Timestamp: 1700000000, Value: 7, Tags: map[string]string{"host": "exporter01"}},
		{Metric: "riemannpub.endpoint.connected", Timestamp: 1700000000, Value: 1, Tags: map[string]string{"host": "exporter01", "endpoint": "r1:5555"}},
	}
	if diff := cmp.Diff(want, source.snapshot()); diff != "" {
		t.Fatalf("unexpected published stats (-want +got):\n%s", diff)
	}
}

// TestStatsReporter_LogOnly verifies nothing is published without publish flag.
// Params: testing.T for assertions.
// Returns: none.
func TestStatsReporter_LogOnly(t *testing.T) {
	source := &fakeStatsSource{}
	reporter := newStatsReporter(statsReporterConfig{Interval: time.Minute}, source, quietLogger())

	reporter.report(context.Background())

	if got := source.snapshot(); len(got) != 0 {
		t.Fatalf("unexpected published stats: %+v", got)
	}
}

// TestStatsReporter_RunTicks verifies periodic reporting until cancel.
// Params: testing.T for assertions.
// Returns: none.
func TestStatsReporter_RunTicks(t *testing.T) {
	source := &fakeStatsSource{}
	reporter := newStatsReporter(statsReporterConfig{Interval: 10 * time.Millisecond, Publish: true, Host: "h"}, source, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := reporter.run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := source.snapshot(); len(got) < 2 {
		t.Fatalf("expected at least one tick, got %d samples", len(got))
	}
}

// TestStatLogKey verifies prefix trimming and tag suffix.
// Params: testing.T for assertions.
// Returns: none.
func TestStatLogKey(t *testing.T) {
	if got := statLogKey(publisher.Stat{Name: "riemannpub.points.sent"}); got != "points.sent" {
		t.Fatalf("unexpected key: %q", got)
	}
	got := statLogKey(publisher.Stat{Name: "riemannpub.endpoint.connected", Tags: map[string]string{"endpoint": "r1:5555"}})
	if got != "endpoint.connected[r1:5555]" {
		t.Fatalf("unexpected tagged key: %q", got)
	}
}
