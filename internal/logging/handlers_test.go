package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewTeeHandlerCollapses(t *testing.T) {
	if _, ok := newTeeHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for all nil handlers")
	}
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	if h := newTeeHandler(nil, inner); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestRunIDHandlerStampsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(runIDHandler{next: slog.NewTextHandler(&buf, nil), runID: "20260101T000000Z-abcd1234"})
	logger.With(slog.Int(FieldBin, 2)).Info("bin probed")
	if !strings.Contains(buf.String(), "run_id=20260101T000000Z-abcd1234") || !strings.Contains(buf.String(), "bin=2") {
		t.Fatalf("unexpected record: %q", buf.String())
	}
}

func TestTeeLoggerRespectsPerHandlerLevel(t *testing.T) {
	var fileBuf, consoleBuf bytes.Buffer
	file := slog.New(slog.NewTextHandler(&fileBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	console := slog.NewTextHandler(&consoleBuf, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := TeeLogger(file, console).With(slog.Int(FieldDrive, 3))
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug enabled through the file handler")
	}
	logger.Debug("frame received")
	logger.Warn("door open")

	if !strings.Contains(fileBuf.String(), "frame received") || !strings.Contains(fileBuf.String(), "door open") {
		t.Fatalf("file handler missing records: %q", fileBuf.String())
	}
	if strings.Contains(consoleBuf.String(), "frame received") {
		t.Fatalf("console handler should skip debug: %q", consoleBuf.String())
	}
	if !strings.Contains(consoleBuf.String(), "drive=3") {
		t.Fatalf("console handler missing attrs: %q", consoleBuf.String())
	}
}
