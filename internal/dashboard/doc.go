// Package dashboard merges the global log and per-drive imaging output into
// a fixed terminal layout.
//
// A single Aggregator goroutine owns every window. Log records arrive
// through the logging stream handler and block when the queue is full;
// drive output never blocks and is dropped and counted instead. Each event
// produces a full Snapshot, which Layout renders without diffing.
package dashboard
