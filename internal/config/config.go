package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"riemannpub/internal/match"
	"riemannpub/internal/publisher"
)

const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "line"
	defaultRiemannPort     = 5555
	defaultRiemannTimeout  = 5 * time.Second
	defaultIngestListen    = "127.0.0.1:4242"
	defaultIngestMaxBody   = 1 << 20
	defaultIngestTimeout   = 10 * time.Second
	defaultHealthListen    = "127.0.0.1:4243"
	defaultHealthInterval  = 5 * time.Second
	defaultStatsInterval   = 60 * time.Second
	defaultPprofListen     = "127.0.0.1:6060"
	maxIngestBodyLimitByte = 64 << 20
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root exporter configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Riemann   RiemannConfig   `toml:"riemann"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Filter    FilterConfig    `toml:"filter"`
	Ingest    IngestConfig    `toml:"ingest"`
	Health    HealthConfig    `toml:"health"`
	Stats     StatsConfig     `toml:"stats"`
	Log       LogConfig       `toml:"log"`
	Pprof     PprofConfig     `toml:"pprof"`
}

// RiemannConfig defines the endpoint pool.
// Params: comma-separated hosts sharing one port, transport timeout and event options.
// Returns: endpoint settings.
type RiemannConfig struct {
	Hosts      string            `toml:"hosts"`
	Port       int               `toml:"port"`
	Timeout    Duration          `toml:"timeout"`
	SendTime   bool              `toml:"send_time"`
	Attributes map[string]string `toml:"attributes"`
}

// ReconnectConfig defines the per-connection cool-down policy.
type ReconnectConfig struct {
	Window Duration `toml:"window"`
	Rearm  bool     `toml:"rearm"`
}

// FilterConfig defines metric masks and drop conditions applied before sending.
type FilterConfig struct {
	Keep      []string `toml:"keep"`
	Drop      []string `toml:"drop"`
	DropPoint []string `toml:"drop_point"`
}

// IngestConfig defines the HTTP put endpoint.
type IngestConfig struct {
	Enabled     bool     `toml:"enabled"`
	Listen      string   `toml:"listen"`
	MaxBody     int64    `toml:"max_body"`
	ReadTimeout Duration `toml:"read_timeout"`
}

// HealthConfig defines the gRPC health endpoint.
type HealthConfig struct {
	Enabled  bool     `toml:"enabled"`
	Listen   string   `toml:"listen"`
	Interval Duration `toml:"interval"`
}

// StatsConfig defines periodic self-metric reporting.
// Params: enabled loop flag, interval, publish toggles sending stats through the publisher, host tag.
// Returns: stats loop settings.
type StatsConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
	Publish  bool     `toml:"publish"`
	Host     string   `toml:"host"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}
	sort.Strings(files)

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if c.Riemann.Port == 0 {
		c.Riemann.Port = defaultRiemannPort
	}
	if c.Riemann.Timeout.Duration <= 0 {
		c.Riemann.Timeout.Duration = defaultRiemannTimeout
	}
	if c.Reconnect.Window.Duration <= 0 {
		c.Reconnect.Window.Duration = publisher.DefaultReconnectWindow
	}

	if strings.TrimSpace(c.Ingest.Listen) == "" {
		c.Ingest.Listen = defaultIngestListen
	}
	if c.Ingest.MaxBody == 0 {
		c.Ingest.MaxBody = defaultIngestMaxBody
	}
	if c.Ingest.ReadTimeout.Duration <= 0 {
		c.Ingest.ReadTimeout.Duration = defaultIngestTimeout
	}

	if strings.TrimSpace(c.Health.Listen) == "" {
		c.Health.Listen = defaultHealthListen
	}
	if c.Health.Interval.Duration <= 0 {
		c.Health.Interval.Duration = defaultHealthInterval
	}

	if c.Stats.Interval.Duration <= 0 {
		c.Stats.Interval.Duration = defaultStatsInterval
	}
	if c.Stats.Publish && strings.TrimSpace(c.Stats.Host) == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Stats.Host = host
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}
	return nil
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Riemann.Hosts) == "" {
		return fmt.Errorf("riemann.hosts is required")
	}
	if c.Riemann.Port < 1 || c.Riemann.Port > 65535 {
		return fmt.Errorf("riemann.port must be within 1..65535, got %d", c.Riemann.Port)
	}
	if _, err := publisher.ParseEndpoints(c.Riemann.Hosts, c.Riemann.Port); err != nil {
		return fmt.Errorf("riemann.hosts: %w", err)
	}
	for key := range c.Riemann.Attributes {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("riemann.attributes contains empty key")
		}
	}

	if err := validateMasks("filter.keep", c.Filter.Keep); err != nil {
		return err
	}
	if err := validateMasks("filter.drop", c.Filter.Drop); err != nil {
		return err
	}
	for idx, expression := range c.Filter.DropPoint {
		if _, err := match.ParseCondition(expression); err != nil {
			return fmt.Errorf("filter.drop_point[%d]: %w", idx, err)
		}
	}

	if err := validateListen("ingest", c.Ingest.Enabled, c.Ingest.Listen); err != nil {
		return err
	}
	if c.Ingest.MaxBody < 0 || c.Ingest.MaxBody > maxIngestBodyLimitByte {
		return fmt.Errorf("ingest.max_body must be within 1..%d", maxIngestBodyLimitByte)
	}
	if err := validateListen("health", c.Health.Enabled, c.Health.Listen); err != nil {
		return err
	}
	if c.Stats.Publish && !c.Stats.Enabled {
		return fmt.Errorf("stats.publish requires stats.enabled")
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	return validateListen("pprof", c.Pprof.Enabled, c.Pprof.Listen)
}

// PublisherOptions maps config onto publisher options without collaborators.
// Params: filter compiled from Filter section (may be nil).
// Returns: publisher options.
func (c *Config) PublisherOptions(filter *match.Filter) publisher.Options {
	return publisher.Options{
		Hosts:           c.Riemann.Hosts,
		Port:            c.Riemann.Port,
		Timeout:         c.Riemann.Timeout.Duration,
		SendTime:        c.Riemann.SendTime,
		Attributes:      c.Riemann.Attributes,
		ReconnectWindow: c.Reconnect.Window.Duration,
		Rearm:           c.Reconnect.Rearm,
		Filter:          filter,
	}
}

// validateMasks rejects blank wildcard masks.
// Params: path config field path; masks wildcard list.
// Returns: validation error or nil.
func validateMasks(path string, masks []string) error {
	for idx, mask := range masks {
		if strings.TrimSpace(mask) == "" {
			return fmt.Errorf("%s[%d] cannot be empty", path, idx)
		}
	}
	return nil
}

// validateListen validates optional listener endpoint settings.
// Params: path config section; enabled listener flag; listen host:port.
// Returns: validation error for invalid listen endpoint.
func validateListen(path string, enabled bool, listen string) error {
	if !enabled {
		return nil
	}
	if strings.TrimSpace(listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	switch strings.TrimSpace(strings.ToLower(sink.Level)) {
	case "info", "warn", "error", "panic", "debug":
	default:
		return fmt.Errorf("%s.level: unsupported value %q", name, sink.Level)
	}
	switch strings.TrimSpace(strings.ToLower(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format: unsupported value %q", name, sink.Format)
	}

	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
