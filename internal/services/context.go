package services

import "context"

type contextKey string

const (
	driveKey contextKey = "drive"
	jobIDKey contextKey = "job_id"
)

// WithDrive annotates context with the one-based drive index.
func WithDrive(ctx context.Context, drive int) context.Context {
	if drive <= 0 {
		return ctx
	}
	return context.WithValue(ctx, driveKey, drive)
}

// DriveFromContext extracts the drive index if present.
func DriveFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(driveKey).(int)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// WithJobID annotates context with the imaging job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the imaging job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
