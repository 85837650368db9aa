package autoloader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"autorip/internal/config"
	"autorip/internal/logging"
	"autorip/internal/metrics"
	"autorip/internal/services"
)

// BinReading is the result of probing one bin.
type BinReading struct {
	Bin config.Bin
	// Known is false when the probe could not be interpreted.
	Known    bool
	Count    int
	Offset   int
	Response string
}

// Free returns the remaining capacity of a known reading.
func (r BinReading) Free() int {
	if !r.Known {
		return 0
	}
	return r.Bin.Capacity - r.Count
}

// BinSample is one successful probe, kept for calibration analysis.
type BinSample struct {
	Bin        int
	Count      int
	Offset     int
	Response   string
	RecordedAt time.Time
}

// SampleRecorder persists bin samples.
type SampleRecorder interface {
	RecordSample(ctx context.Context, sample BinSample) error
}

// TrayController opens and closes drive trays.
type TrayController interface {
	Open(ctx context.Context, device string) error
	Close(ctx context.Context, device string) error
}

// Loader issues bin and drive actions through a robot session.
type Loader struct {
	calibration config.Calibration
	trays       TrayController
	samples     SampleRecorder
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// LoaderDeps wires optional collaborators into a Loader.
type LoaderDeps struct {
	Trays   TrayController
	Samples SampleRecorder
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// NewLoader builds a Loader for the given calibration.
func NewLoader(cal config.Calibration, deps LoaderDeps) *Loader {
	return &Loader{
		calibration: cal,
		trays:       deps.Trays,
		samples:     deps.Samples,
		metrics:     deps.Metrics,
		logger:      logging.NewComponentLogger(deps.Logger, "loader"),
	}
}

// QueryBin probes a bin and converts the response to a disc count.
//
// An error sentinel triggers one recalibration and exactly one re-probe; a
// second sentinel is an inventory fault. An uninterpretable response is
// reported as an unknown reading without error.
func (l *Loader) QueryBin(ctx context.Context, s *Session, bin config.Bin) (BinReading, error) {
	logger := logging.WithContext(ctx, l.logger).With(logging.Bin(bin.Index))
	reading := BinReading{Bin: bin}
	command := BinProbeCommand(bin.Index)

	response, err := s.Send(ctx, command)
	if err != nil {
		return reading, err
	}
	if IsBinErrorSentinel(response) {
		logging.WarnWithContext(logger, "bin reported error code; recalibrating", "bin_error_code",
			logging.String(logging.FieldResponse, response),
			logging.String(logging.FieldImpact, "bin is re-probed once after recalibration"),
		)
		if err := s.RecalibrateBin(ctx, bin.Index); err != nil {
			return reading, err
		}
		response, err = s.Send(ctx, command)
		if err != nil {
			return reading, err
		}
		if IsBinErrorSentinel(response) {
			reading.Response = response
			logging.WarnWithContext(logger, "bin still reports error code", "inventory_fault",
				logging.String(logging.FieldResponse, response),
				logging.String(logging.FieldErrorHint, "reseat the disc stack in this bin"),
				logging.String(logging.FieldImpact, "bin count unknown for this pass"),
			)
			return reading, services.Wrap(services.ErrInventoryFault, "inventory", "query bin",
				"error code persisted after recalibration", nil)
		}
	}
	reading.Response = response

	count, err := CountDiscs(response, bin.Capacity, l.calibration)
	switch {
	case errors.Is(err, services.ErrParseFault):
		logging.WarnWithContext(logger, "unreadable bin response", "inventory_parse",
			logging.String(logging.FieldResponse, response),
			logging.Error(err),
			logging.String(logging.FieldImpact, "bin count unknown for this pass"),
		)
		return reading, nil
	case err != nil:
		return reading, err
	}

	reading.Known = true
	reading.Count = count
	if offset, err := ParseOffset(response); err == nil {
		reading.Offset = offset
	}
	l.metrics.BinCount(bin.Index, count)
	logger.Info("bin inventory",
		logging.Int("count", count),
		logging.Int("capacity", bin.Capacity),
		logging.Int("offset", reading.Offset),
	)
	if l.samples != nil {
		sample := BinSample{
			Bin:        bin.Index,
			Count:      count,
			Offset:     reading.Offset,
			Response:   response,
			RecordedAt: time.Now().UTC(),
		}
		if err := l.samples.RecordSample(ctx, sample); err != nil {
			logger.Debug("bin sample not recorded", logging.Error(err))
		}
	}
	return reading, nil
}

// ScanBins probes bins in order. Inventory faults leave the affected bin
// unknown; robot errors abort the scan.
func (l *Loader) ScanBins(ctx context.Context, s *Session, bins []config.Bin) ([]BinReading, error) {
	readings := make([]BinReading, 0, len(bins))
	for _, bin := range bins {
		reading, err := l.QueryBin(ctx, s, bin)
		if err != nil && !errors.Is(err, services.ErrInventoryFault) {
			return readings, err
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// RecalibrateBin re-seats the top disc of bin.
func (l *Loader) RecalibrateBin(ctx context.Context, s *Session, bin int) error {
	return s.RecalibrateBin(ctx, bin)
}
