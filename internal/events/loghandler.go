package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// LogHandler is a slog.Handler that mirrors every record onto the bus
// as a KindLogLine event, formatted as a single human-readable line.
// The control channel streams these to its clients with a "LOG: "
// prefix; the web event socket forwards them as JSON.
//
// main pairs it with a regular text handler through
// config.MultiHandler; it never writes anywhere itself.
type LogHandler struct {
	bus   *Bus
	level slog.Leveler

	mu    sync.Mutex
	attrs []slog.Attr
	group string
}

// NewLogHandler creates a handler publishing to bus at or above level.
func NewLogHandler(bus *Bus, level slog.Leveler) *LogHandler {
	return &LogHandler{bus: bus, level: level}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

// Handle implements slog.Handler: format the record and publish it.
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	sb.WriteString(" [")
	sb.WriteString(r.Level.String())
	sb.WriteString("] ")
	sb.WriteString(r.Message)

	h.mu.Lock()
	attrs := h.attrs
	group := h.group
	h.mu.Unlock()

	appendAttr := func(a slog.Attr) {
		key := a.Key
		if group != "" {
			key = group + "." + key
		}
		fmt.Fprintf(&sb, " %s=%v", key, a.Value.Any())
	}
	for _, a := range attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})

	h.bus.Publish(Event{
		Timestamp: r.Time,
		Source:    SourceLog,
		Kind:      KindLogLine,
		Data:      map[string]any{"line": sb.String(), "level": r.Level.String()},
	})
	return nil
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	clone := &LogHandler{bus: h.bus, level: h.level, group: h.group}
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return clone
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	clone := &LogHandler{bus: h.bus, level: h.level, attrs: h.attrs}
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return clone
}
