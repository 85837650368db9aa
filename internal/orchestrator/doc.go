// Package orchestrator drives the per-drive load, image, unload cycle.
//
// Each configured drive gets its own worker goroutine. Workers take turns on
// the robot through the autoloader engine, so a whole load or unload
// sequence runs without interleaving, while imaging runs in parallel across
// drives. A worker stops when input is exhausted, output is full, or an
// error occurs; the other workers carry on.
package orchestrator
