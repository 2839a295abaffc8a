package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents log levels
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	// LevelDisable suppresses all output, errors included.
	LevelDisable
)

// SlogLevelTrace is the slog level used for TRACE records, for callers
// logging through a *slog.Logger obtained from With or Component.
const SlogLevelTrace = slog.Level(-8)

const slogLevelDisable = slog.Level(1 << 10)

// Config holds logger configuration
type Config struct {
	Level  string // TRACE, DEBUG, INFO, WARN, ERROR, DISABLE
	Format string // text, json
	Output string // stdout, stderr, or file path
}

var (
	currentLevel  atomic.Int32
	currentFormat atomic.Value // stores "text" or "json"

	// levelVar is shared by every handler built by reconfigure so that
	// SetLevel does not need to rebuild handlers.
	levelVar = new(slog.LevelVar)

	mu       sync.RWMutex
	handler  slog.Handler
	output   io.Writer = os.Stdout
	useColor bool      = true
	sink     Sink
	outFile  *os.File
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	levelVar.Set(slog.LevelInfo)
	currentFormat.Store("text")

	if f, ok := output.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}

	reconfigure()
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelDisable:
		return "DISABLE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name into a Level. "WARNING" and "OFF" are
// accepted as aliases.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace, true
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "DISABLE", "OFF":
		return LevelDisable, true
	default:
		return LevelInfo, false
	}
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case LevelTrace:
		return SlogLevelTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelDisable:
		return slogLevelDisable
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelDebug:
		return LevelTrace
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// reconfigure rebuilds the root handler from the current output, format and sink.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	format, _ := currentFormat.Load().(string)
	opts := &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: replaceLevelName,
	}

	var base slog.Handler
	if format == "json" {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = NewColorTextHandler(output, opts, useColor)
	}

	if sink != nil {
		base = &fanoutHandler{handlers: []slog.Handler{base, NewSinkHandler(sink, levelVar)}}
	}
	handler = base
}

// replaceLevelName renders the custom trace level by name in JSON output.
func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= SlogLevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// Init initializes the logger with the given configuration.
// Output can be "stdout", "stderr", or a file path.
func Init(cfg Config) error {
	if cfg.Output != "" {
		var newOutput io.Writer
		var newUseColor bool
		var newFile *os.File

		switch strings.ToLower(cfg.Output) {
		case "stdout":
			newOutput = os.Stdout
			newUseColor = isTerminal(os.Stdout.Fd())
		case "stderr":
			newOutput = os.Stderr
			newUseColor = isTerminal(os.Stderr.Fd())
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
			if err != nil {
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			newOutput = f
			newFile = f
		}

		mu.Lock()
		if outFile != nil {
			_ = outFile.Close()
		}
		output = newOutput
		outFile = newFile
		useColor = newUseColor
		mu.Unlock()
	}

	if cfg.Level != "" {
		if _, ok := ParseLevel(cfg.Level); !ok {
			return fmt.Errorf("unknown log level %q", cfg.Level)
		}
		SetLevel(cfg.Level)
	}

	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}

	reconfigure()
	return nil
}

// InitWithWriter initializes the logger with a custom io.Writer.
// This is primarily useful for testing.
func InitWithWriter(w io.Writer, level, format string, enableColor bool) {
	mu.Lock()
	output = w
	useColor = enableColor
	mu.Unlock()

	if level != "" {
		SetLevel(level)
	}
	if format != "" {
		SetFormat(format)
	}
	reconfigure()
}

// SetLevel sets the minimum log level. Unknown names are ignored.
func SetLevel(level string) {
	l, ok := ParseLevel(level)
	if !ok {
		return
	}
	currentLevel.Store(int32(l))
	levelVar.Set(toSlogLevel(l))
}

// GetLevel returns the current minimum level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// SetFormat sets the output format (text or json)
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	currentFormat.Store(format)
	reconfigure()
}

// SetSink installs a receiver that gets every record in addition to the
// configured output. Passing nil removes it.
func SetSink(s Sink) {
	mu.Lock()
	sink = s
	mu.Unlock()
	reconfigure()
}

func getHandler() slog.Handler {
	mu.RLock()
	h := handler
	mu.RUnlock()
	return h
}

func enabled(l Level) bool {
	cur := Level(currentLevel.Load())
	return cur != LevelDisable && l >= cur
}

func logAt(ctx context.Context, l Level, msg string, args []any) {
	if !enabled(l) {
		return
	}
	slog.New(getHandler()).Log(ctx, toSlogLevel(l), msg, args...)
}

// ============================================================================
// Structured Logging API
// ============================================================================

// Trace logs at trace level. Used for per-block I/O detail.
func Trace(msg string, args ...any) { logAt(context.Background(), LevelTrace, msg, args) }

// Debug logs at debug level with structured fields
// Usage: Debug("message", "key1", value1, "key2", value2)
func Debug(msg string, args ...any) { logAt(context.Background(), LevelDebug, msg, args) }

// Info logs at info level with structured fields
func Info(msg string, args ...any) { logAt(context.Background(), LevelInfo, msg, args) }

// Warn logs at warn level with structured fields
func Warn(msg string, args ...any) { logAt(context.Background(), LevelWarn, msg, args) }

// Error logs at error level with structured fields
func Error(msg string, args ...any) { logAt(context.Background(), LevelError, msg, args) }

// ============================================================================
// Context-aware Logging API
// ============================================================================

// DebugCtx logs at debug level, prepending LogContext fields found in ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelDebug, msg, appendContextFields(ctx, args))
}

// InfoCtx logs at info level with context
func InfoCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelInfo, msg, appendContextFields(ctx, args))
}

// WarnCtx logs at warn level with context
func WarnCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelWarn, msg, appendContextFields(ctx, args))
}

// ErrorCtx logs at error level with context
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	logAt(ctx, LevelError, msg, appendContextFields(ctx, args))
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 8+len(args))
	if lc.TraceID != "" {
		ctxArgs = append(ctxArgs, KeyTraceID, lc.TraceID)
	}
	if lc.SpanID != "" {
		ctxArgs = append(ctxArgs, KeySpanID, lc.SpanID)
	}
	if lc.Operation != "" {
		ctxArgs = append(ctxArgs, KeyOperation, lc.Operation)
	}
	if lc.Location != "" {
		ctxArgs = append(ctxArgs, KeyLocation, lc.Location)
	}

	return append(ctxArgs, args...)
}

// ============================================================================
// Derived loggers
// ============================================================================

// With returns a logger with pre-bound attributes. The returned logger follows
// later SetLevel, SetFormat and SetSink calls.
func With(args ...any) *slog.Logger {
	return slog.New(&globalHandler{}).With(args...)
}

// Component returns a logger tagged with the given component name.
func Component(name string) *slog.Logger {
	return With(KeyComponent, name)
}

// globalHandler resolves the package handler on every record, replaying the
// attrs and groups accumulated through With/WithGroup.
type globalHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (g *globalHandler) resolve() slog.Handler {
	h := getHandler()
	for _, op := range g.ops {
		h = op(h)
	}
	return h
}

func (g *globalHandler) Enabled(_ context.Context, l slog.Level) bool {
	return enabled(fromSlogLevel(l)) && l >= levelVar.Level()
}

func (g *globalHandler) Handle(ctx context.Context, r slog.Record) error {
	return g.resolve().Handle(ctx, r)
}

func (g *globalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return g.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (g *globalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return g
	}
	return g.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (g *globalHandler) with(op func(slog.Handler) slog.Handler) *globalHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(g.ops), len(g.ops)+1)
	copy(ops, g.ops)
	return &globalHandler{ops: append(ops, op)}
}

// fanoutHandler forwards each record to several handlers.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: hs}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: hs}
}

// Duration returns duration since start time in milliseconds
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
