package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"riemannpub/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
	ansiGray    = "\x1b[90m"
)

// levelPanic is the most severe level accepted in config.
const levelPanic = slog.LevelError + 4

// New builds logger with console and/or file sinks.
// Params: cfg validated log section.
// Returns: logger, close function for file sink, and setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		handler, err := newSinkHandler(cfg.Console, os.Stdout, true)
		if err != nil {
			return nil, nil, fmt.Errorf("log.console: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		handler, err := newSinkHandler(cfg.File, file, false)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("log.file: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			for _, closer := range closers {
				_ = closer.Close()
			}
		})
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(fanoutHandler(handlers)), closeFn, nil
	}
}

// newSinkHandler creates slog handler for one sink.
// Params: sink options; dst writer; colorize enables ANSI line coloring.
// Returns: handler or error for unsupported level/format.
func newSinkHandler(sink config.LogSinkConfig, dst io.Writer, colorize bool) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "json":
		return slog.NewJSONHandler(dst, opts), nil
	case "line", "":
		if colorize {
			dst = &colorLineWriter{dst: dst}
		}
		return slog.NewTextHandler(dst, opts), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", sink.Format)
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "panic":
		return levelPanic, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", level)
	}
}

// fanoutHandler duplicates records into every sink.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, 0, len(h))
	for _, handler := range h {
		out = append(out, handler.WithAttrs(attrs))
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, 0, len(h))
	for _, handler := range h {
		out = append(out, handler.WithGroup(name))
	}
	return out
}

// colorLineWriter colors slog text lines by level and highlights value tokens.
// Lines without a level pass through unchanged.
type colorLineWriter struct {
	mu  sync.Mutex
	dst io.Writer
}

// Write renders one slog text record.
// Params: p one formatted record.
// Returns: len(p) on success and destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	line := string(p)
	base := levelColor(line)
	if base == "" {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.dst.Write(p)
	}

	body := strings.TrimSuffix(line, "\n")
	newline := len(body) != len(line)

	var out bytes.Buffer
	out.Grow(len(line) + 64)
	out.WriteString(base)
	for i := 0; i < len(body); {
		switch body[i] {
		case '"':
			end := closingQuote(body, i)
			out.WriteString(ansiGreen + body[i:end] + ansiReset + base)
			i = end
		case '=':
			out.WriteByte('=')
			i++
			if i >= len(body) || body[i] == '"' {
				continue
			}
			end := i
			for end < len(body) && body[end] != ' ' {
				end++
			}
			token := body[i:end]
			if color := tokenColor(token); color != "" {
				out.WriteString(color + token + ansiReset + base)
			} else {
				out.WriteString(token)
			}
			i = end
		default:
			out.WriteByte(body[i])
			i++
		}
	}
	out.WriteString(ansiReset)
	if newline {
		out.WriteByte('\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.dst.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// levelColor returns base color for level=... token or empty string.
func levelColor(line string) string {
	idx := strings.Index(line, "level=")
	if idx < 0 {
		return ""
	}
	rest := line[idx+len("level="):]
	if end := strings.IndexAny(rest, " \n"); end >= 0 {
		rest = rest[:end]
	}

	switch {
	case strings.HasPrefix(rest, "DEBUG"):
		return ansiGray
	case strings.HasPrefix(rest, "INFO"):
		return ansiBlue
	case strings.HasPrefix(rest, "WARN"):
		return ansiMagenta
	case strings.HasPrefix(rest, "ERROR"):
		return ansiRed
	default:
		return ""
	}
}

// closingQuote returns index right after the quote closing the string at start.
func closingQuote(s string, start int) int {
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(s)
}

// tokenColor picks highlight color for an unquoted value.
func tokenColor(token string) string {
	if token == "" {
		return ""
	}
	if net.ParseIP(token) != nil {
		return ansiCyan
	}
	if host, _, err := net.SplitHostPort(token); err == nil && net.ParseIP(host) != nil {
		return ansiCyan
	}
	if _, err := strconv.ParseFloat(token, 64); err == nil {
		return ansiYellow
	}
	return ""
}
