package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyProbe      = "probe"
	KeyStep       = "step"
	KeyPhase      = "phase"
	KeyRunID      = "runId"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

// Levels beyond slog's four. SUCCESS and FOUND sit between INFO and WARN. A
// "warn" or "error" threshold hides SUCCESS, but FOUND is always emitted: a
// core detection is never filtered out of the log.
const (
	LevelSuccess = slog.LevelInfo + 1
	LevelFound   = slog.LevelInfo + 2
)

// Output formats accepted by Init.
const (
	FormatConsole = "console"
	FormatText    = "text"
	FormatJSON    = "json"
)

type contextKey struct{}

// switchableHandler lets package-level loggers created before Init()
// dynamically pick up the configured handler once Init runs.
type switchableHandler struct {
	state  *switchableState
	attrs  []slog.Attr
	groups []string
}

type switchableState struct {
	current atomic.Pointer[handlerBox]
}

// handlerBox pairs the configured handler with the operator's threshold.
type handlerBox struct {
	handler slog.Handler
	level   slog.Level
}

func (b *handlerBox) enabled(level slog.Level) bool {
	return level == LevelFound || level >= b.level
}

func newSwitchableHandler(h slog.Handler, level slog.Level) *switchableHandler {
	state := &switchableState{}
	state.current.Store(&handlerBox{handler: h, level: level})
	return &switchableHandler{state: state}
}

func (h *switchableHandler) set(handler slog.Handler, level slog.Level) {
	h.state.current.Store(&handlerBox{handler: handler, level: level})
}

func (h *switchableHandler) base() slog.Handler {
	return h.state.current.Load().handler
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.base()
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.state.current.Load().enabled(level) && h.base().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	groups := make([]string, len(h.groups))
	copy(groups, h.groups)

	return &switchableHandler{
		state:  h.state,
		attrs:  merged,
		groups: groups,
	}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)

	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &switchableHandler{
		state:  h.state,
		attrs:  attrs,
		groups: groups,
	}
}

var (
	rootHandler   = newSwitchableHandler(NewConsoleHandler(os.Stderr, &ConsoleOptions{Level: slog.LevelInfo}), slog.LevelInfo)
	defaultLogger = slog.New(rootHandler)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init initializes the global logger. Call once after config is loaded.
// format: "console", "text" or "json" (default "console")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	lvl := parseLevel(level)
	// The handler itself must pass FOUND; the box applies the real threshold.
	floor := min(lvl, LevelFound)

	var handler slog.Handler
	switch strings.ToLower(format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: floor, ReplaceAttr: replaceLevel})
	case FormatText:
		handler = slog.NewTextHandler(output, &slog.HandlerOptions{Level: floor, ReplaceAttr: replaceLevel})
	default:
		handler = NewConsoleHandler(output, &ConsoleOptions{Level: floor})
	}

	rootHandler.set(handler, lvl)
	defaultLogger = slog.New(rootHandler)
	slog.SetDefault(defaultLogger)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// Found logs a core detection. Callers that need the list of core hits read
// it from the detection report, not from the log stream.
func Found(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Log(ctx, LevelFound, msg, args...)
}

// Success logs a completed mutation or a clean result.
func Success(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Log(ctx, LevelSuccess, msg, args...)
}

// LevelName maps a slog level onto the operator-facing level vocabulary.
func LevelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l == LevelSuccess:
		return "SUCCESS"
	case l == LevelFound:
		return "FOUND"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(LevelName(lvl))
		}
	}
	return a
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
