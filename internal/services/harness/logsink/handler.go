package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/louisbranch/sdkharness/internal/services/harness/fnapi"
)

// MinLevel is the lowest severity delivered to the logging service.
const MinLevel = slog.LevelInfo

type handler struct {
	sink   *Sink
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= MinLevel && h.sink.accepting()
}

func (h *handler) Handle(_ context.Context, record slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		flattenAttr(fields, "", attr)
	}
	prefix := strings.Join(h.groups, ".")
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(fields, prefix, attr)
		return true
	})

	entry := fnapi.LogEntry{
		Severity:  record.Level.String(),
		Timestamp: record.Time,
		Message:   record.Message,
		Location:  location(record.PC),
		Fields:    fields,
	}
	h.sink.enqueue(entry)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	prefix := strings.Join(h.groups, ".")
	next := slices.Clip(h.attrs)
	for _, attr := range attrs {
		if prefix != "" {
			attr = slog.Group(prefix, attr)
		}
		next = append(next, attr)
	}
	return &handler{sink: h.sink, attrs: next, groups: h.groups}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &handler{sink: h.sink, attrs: h.attrs, groups: append(slices.Clip(h.groups), name)}
}

func location(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	frame, _ := frames.Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}
