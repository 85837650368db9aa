// Package notifications pushes run milestones to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never check whether notifications are enabled. Messages are plain
// text POSTs with ntfy's Title, Tags, and Priority headers.
package notifications
