package preflight

import (
	"context"

	"autorip/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckSerialDevice(cfg.Serial.Port))
	for _, drive := range cfg.Drives {
		results = append(results, CheckDriveDevice(drive))
	}
	results = append(results,
		CheckDirectoryAccess("Destination directory", cfg.Imaging.DestinationDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	)
	for _, tool := range ImagingTools(cfg.DDRescueBinary()) {
		results = append(results, CheckTool(tool))
	}
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
