package testsupport

import (
	"context"
	"log/slog"
	"sync"
)

// CapturedRecord is one record seen by a LogCapture.
type CapturedRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

// LogCapture is a slog.Handler that keeps every record for assertions.
type LogCapture struct {
	mu      *sync.Mutex
	records *[]CapturedRecord
	attrs   []slog.Attr
}

// NewLogCapture returns a capture handler and a logger writing to it.
func NewLogCapture() (*LogCapture, *slog.Logger) {
	capture := &LogCapture{mu: &sync.Mutex{}, records: &[]CapturedRecord{}}
	return capture, slog.New(capture)
}

func (c *LogCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *LogCapture) Handle(_ context.Context, record slog.Record) error {
	captured := CapturedRecord{Level: record.Level, Message: record.Message, Attrs: map[string]string{}}
	for _, attr := range c.attrs {
		captured.Attrs[attr.Key] = attr.Value.String()
	}
	record.Attrs(func(attr slog.Attr) bool {
		captured.Attrs[attr.Key] = attr.Value.String()
		return true
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.records = append(*c.records, captured)
	return nil
}

func (c *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), c.attrs...), attrs...)
	return &LogCapture{mu: c.mu, records: c.records, attrs: merged}
}

func (c *LogCapture) WithGroup(string) slog.Handler { return c }

// Records returns a copy of everything captured so far.
func (c *LogCapture) Records() []CapturedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CapturedRecord(nil), (*c.records)...)
}

// CountEvent returns how many records carry event_type == eventType.
func (c *LogCapture) CountEvent(eventType string) int {
	n := 0
	for _, record := range c.Records() {
		if record.Attrs["event_type"] == eventType {
			n++
		}
	}
	return n
}
