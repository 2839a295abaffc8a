package logger

import (
	"context"
	"log/slog"
	"strings"
)

// Sink receives log lines for forwarding into a host application's own
// logging facility. Implementations must be safe for concurrent use.
type Sink interface {
	Log(level Level, line string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(level Level, line string)

// Log implements Sink.
func (f SinkFunc) Log(level Level, line string) { f(level, line) }

// SinkHandler is a slog.Handler that renders each record to a single line
// ("message key=value ...") and hands it to a Sink.
type SinkHandler struct {
	sink   Sink
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewSinkHandler creates a handler forwarding records at or above level.
// A nil level forwards everything from INFO up.
func NewSinkHandler(s Sink, level slog.Leveler) *SinkHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SinkHandler{sink: s, level: level}
}

// Enabled reports whether the handler handles records at the given level
func (h *SinkHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle renders the record and forwards it.
func (h *SinkHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Message)

	write := func(a slog.Attr, prefix string) {
		if a.Equal(slog.Attr{}) {
			return
		}
		a.Value = a.Value.Resolve()
		sb.WriteByte(' ')
		sb.WriteString(prefix)
		sb.WriteString(a.Key)
		sb.WriteByte('=')
		sb.WriteString(formatValue(a.Value))
	}

	for _, a := range h.attrs {
		write(a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a, h.prefix)
		return true
	})

	h.sink.Log(fromSlogLevel(r.Level), sb.String())
	return nil
}

// WithAttrs returns a new handler with additional attrs
func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	cp.attrs = append(cp.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		cp.attrs = append(cp.attrs, a)
	}
	return &cp
}

// WithGroup returns a new handler whose subsequent keys are qualified by name.
func (h *SinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}
