package logging

import (
	"context"
	"log/slog"

	"autorip/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldDrive is the one-based drive index a record belongs to.
	FieldDrive = "drive"
	// FieldBin is the one-based bin index.
	FieldBin = "bin"
	// FieldCommand is the raw robot command text.
	FieldCommand = "command"
	// FieldResponse is the decoded robot response text.
	FieldResponse = "response"
	// FieldRunID identifies one process run.
	FieldRunID = "run_id"
	// FieldJobID identifies one imaging job.
	FieldJobID = "job_id"
	// FieldPhase is the ddrescue phase number.
	FieldPhase = "phase"
	// FieldEventType classifies a record for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if drive, ok := services.DriveFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldDrive, drive))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
