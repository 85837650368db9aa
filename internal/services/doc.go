// Package services defines shared utilities consumed by the robot engine, the
// drive workers, and the imaging pipeline.
//
// Key responsibilities:
//   - Context helpers that stamp drive indices, run IDs, and imaging job IDs
//     for logging.
//   - Structured error markers plus the Wrap helper so callers classify
//     failures with errors.Is instead of string matching.
//   - Typed errors for persistent robot faults and failed imaging phases.
package services
