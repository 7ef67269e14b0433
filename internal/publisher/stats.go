package publisher

import (
	"context"
	"os"
	"sort"
	"sync"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/shirou/gopsutil/v4/mem"
	goprocess "github.com/shirou/gopsutil/v4/process"
)

// StatPrefix prefixes every self-reported metric name.
const StatPrefix = "riemannpub."

const latencyReservoirSize = 1028

// StatsCollector receives self-metrics on every scrape.
// Params: name metric name; value sample; tags extra dimensions (may be nil).
// Returns: none.
type StatsCollector interface {
	Record(name string, value float64, tags map[string]string)
}

// Stat is one recorded self-metric sample.
type Stat struct {
	Name  string            `json:"name"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// StatsSnapshot is a StatsCollector that keeps samples in memory.
type StatsSnapshot struct {
	mu    sync.Mutex
	stats []Stat
}

// Record appends one sample.
func (s *StatsSnapshot) Record(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	s.stats = append(s.stats, Stat{Name: name, Value: value, Tags: tags})
	s.mu.Unlock()
}

// Stats returns recorded samples.
func (s *StatsSnapshot) Stats() []Stat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Stat(nil), s.stats...)
}

// Value returns first sample value by name with no tags.
// Params: name metric name.
// Returns: value and presence flag.
func (s *StatsSnapshot) Value(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stat := range s.stats {
		if stat.Name == name && len(stat.Tags) == 0 {
			return stat.Value, true
		}
	}
	return 0, false
}

// publisherStats holds go-metrics counters of one publisher.
type publisherStats struct {
	registry gometrics.Registry

	received          gometrics.Counter
	filtered          gometrics.Counter
	sent              gometrics.Counter
	notDelivered      gometrics.Counter
	dataErrors        gometrics.Counter
	sendFailures      gometrics.Counter
	panics            gometrics.Counter
	reconnectAttempts gometrics.Counter
	reconnectFailures gometrics.Counter
	annotations       gometrics.Counter
	sendLatencyMicros gometrics.Histogram

	self *selfProcess
}

func newPublisherStats() *publisherStats {
	registry := gometrics.NewRegistry()
	counter := func(name string) gometrics.Counter {
		return gometrics.NewRegisteredCounter(StatPrefix+name, registry)
	}
	return &publisherStats{
		registry:          registry,
		received:          counter("points.received"),
		filtered:          counter("points.filtered"),
		sent:              counter("points.sent"),
		notDelivered:      counter("points.not_delivered"),
		dataErrors:        counter("errors.data"),
		sendFailures:      counter("errors.send"),
		panics:            counter("errors.panic"),
		reconnectAttempts: counter("reconnect.attempts"),
		reconnectFailures: counter("reconnect.failures"),
		annotations:       counter("annotations.ignored"),
		sendLatencyMicros: gometrics.NewRegisteredHistogram(
			StatPrefix+"send.latency_us",
			registry,
			gometrics.NewUniformSample(latencyReservoirSize),
		),
		self: newSelfProcess(),
	}
}

// collect writes registry values, endpoint liveness and process usage.
// Params: ctx scrape context; collector destination; pool liveness source.
// Returns: none.
func (s *publisherStats) collect(ctx context.Context, collector StatsCollector, pool *Pool) {
	names := make([]string, 0, 16)
	items := make(map[string]any, 16)
	s.registry.Each(func(name string, item interface{}) {
		names = append(names, name)
		items[name] = item
	})
	sort.Strings(names)

	for _, name := range names {
		switch metric := items[name].(type) {
		case gometrics.Counter:
			collector.Record(name, float64(metric.Count()), nil)
		case gometrics.Histogram:
			snapshot := metric.Snapshot()
			collector.Record(name+".count", float64(snapshot.Count()), nil)
			collector.Record(name+".mean", snapshot.Mean(), nil)
			collector.Record(name+".p99", snapshot.Percentile(0.99), nil)
			collector.Record(name+".max", float64(snapshot.Max()), nil)
		}
	}

	if pool != nil {
		for _, status := range pool.Status() {
			connected := 0.0
			if status.Connected {
				connected = 1
			}
			collector.Record(StatPrefix+"endpoint.connected", connected, map[string]string{"endpoint": status.Address})
		}
	}

	s.self.collect(ctx, collector)
}

// selfProcess samples resource usage of the running exporter.
type selfProcess struct {
	mu   sync.Mutex
	proc *goprocess.Process
	err  error
}

func newSelfProcess() *selfProcess {
	proc, err := goprocess.NewProcess(int32(os.Getpid()))
	return &selfProcess{proc: proc, err: err}
}

// collect records cpu, rss, ram share and threads; unavailable values are skipped.
func (p *selfProcess) collect(ctx context.Context, collector StatsCollector) {
	if p == nil || p.err != nil || p.proc == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cpuPercent, err := p.proc.PercentWithContext(ctx, 0); err == nil {
		collector.Record(StatPrefix+"process.cpu_percent", cpuPercent, nil)
	}
	if memInfo, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		collector.Record(StatPrefix+"process.rss_bytes", float64(memInfo.RSS), nil)
		if vm, vmErr := mem.VirtualMemoryWithContext(ctx); vmErr == nil && vm.Total > 0 {
			collector.Record(StatPrefix+"process.ram_percent", float64(memInfo.RSS)/float64(vm.Total)*100, nil)
		}
	}
	if threads, err := p.proc.NumThreadsWithContext(ctx); err == nil {
		collector.Record(StatPrefix+"process.threads", float64(threads), nil)
	}
}
