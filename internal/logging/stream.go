package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LogEvent is a structured log line forwarded to a LogEventSink.
type LogEvent struct {
	Timestamp time.Time
	Level     slog.Level
	Message   string
	Component string
	// Drive is the one-based drive index, or zero for global events.
	Drive  int
	Fields map[string]string
}

// Line renders the event as a single dashboard line.
func (e LogEvent) Line() string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(levelLabel(e.Level))
	b.WriteByte(' ')
	if e.Component != "" {
		b.WriteString(e.Component)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if errText, ok := e.Fields["error"]; ok && errText != "" {
		b.WriteString(" (")
		b.WriteString(errText)
		b.WriteByte(')')
	}
	return b.String()
}

// LogEventSink receives published log events. Append may block; callers
// that must not block should buffer on their side.
type LogEventSink interface {
	Append(LogEvent)
}

type streamHandler struct {
	next  slog.Handler
	sink  LogEventSink
	attrs []slog.Attr
}

func newStreamHandler(next slog.Handler, sink LogEventSink) slog.Handler {
	if sink == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, sink: sink}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.sink.Append(eventFromRecord(record, h.attrs))
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &streamHandler{
		next:  h.next.WithAttrs(attrs),
		sink:  h.sink,
		attrs: merged,
	}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{
		next:  h.next.WithGroup(name),
		sink:  h.sink,
		attrs: h.attrs,
	}
}

func eventFromRecord(record slog.Record, preAttrs []slog.Attr) LogEvent {
	event := LogEvent{
		Timestamp: record.Time,
		Level:     record.Level,
		Message:   strings.TrimSpace(record.Message),
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	apply := func(attr slog.Attr) {
		key := strings.TrimSpace(attr.Key)
		if key == "" {
			return
		}
		switch key {
		case FieldComponent:
			event.Component = attrString(attr.Value)
		case FieldDrive:
			value := attr.Value.Resolve()
			if value.Kind() == slog.KindInt64 {
				event.Drive = int(value.Int64())
			} else {
				fmt.Sscanf(attrString(value), "%d", &event.Drive)
			}
		default:
			if event.Fields == nil {
				event.Fields = make(map[string]string)
			}
			event.Fields[key] = attrString(attr.Value)
		}
	}

	// Call-site attrs override logger attrs.
	for _, attr := range preAttrs {
		apply(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		apply(attr)
		return true
	})
	return event
}
