// Package logging assembles structured slog loggers and formatting helpers used
// across autorip.
//
// It owns the console and JSON handlers, the per-run log file, and a stream
// handler that forwards every record to a LogEventSink so the dashboard can
// show the global log next to each drive's output. Context helpers tag lines
// with drive indices and job IDs.
package logging
