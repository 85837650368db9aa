// Package daemon coordinates one autorip process and its system
// integration points.
//
// It wires configuration, the robot engine, the imaging pipeline, the run
// ledger, and the media watcher into a single lifecycle with flock-based
// locking so only one process drives the autoloader at a time. Run adds
// signal handling, the per-run logger, and the dashboard on top.
//
// Keep orchestration logic here: per-drive work belongs in the orchestrator
// while the daemon focuses on startup, shutdown, and wiring.
package daemon
