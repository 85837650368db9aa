package autoloader

import (
	"context"
	"fmt"
	"strings"

	"autorip/internal/logging"
)

// RecalibrateBin re-seats the top disc of a bin so the sensor re-reads the
// stack. A picked disc is placed straight back; an empty bin needs nothing.
func (s *Session) RecalibrateBin(ctx context.Context, bin int) error {
	logger := s.engine.logger.With(logging.Bin(bin))
	logger.Info("recalibrating bin", logging.String(logging.FieldEventType, "recalibrate"))

	response, err := s.Send(ctx, BinPickCommand(bin))
	if err != nil {
		return fmt.Errorf("recalibrate bin %d: pick: %w", bin, err)
	}
	switch {
	case strings.Contains(response, pickAck):
		if _, err := s.Send(ctx, BinPlaceCommand(bin)); err != nil {
			return fmt.Errorf("recalibrate bin %d: place: %w", bin, err)
		}
		logger.Info("disc re-seated")
	case strings.Contains(response, noDiscCode):
		logger.Info("bin is empty; nothing to re-seat")
	default:
		logging.WarnWithContext(logger, "unexpected response during recalibration", "recalibrate_unexpected",
			logging.String(logging.FieldResponse, response),
			logging.String(logging.FieldErrorHint, "check whether the arm is holding a disc"),
			logging.String(logging.FieldImpact, "bin left as-is"),
		)
	}
	return nil
}

// SetupBays clears any latched status and re-seats every bin, the way the
// robot is prepared after power-on or a manual intervention.
func (s *Session) SetupBays(ctx context.Context, bins []int) error {
	logger := s.engine.logger
	logger.Info("clearing pending robot status", logging.String(logging.FieldEventType, "setup_bays"))
	if _, err := s.engine.exchange(ctx, StatusProbe); err != nil {
		return fmt.Errorf("status clear: %w", err)
	}
	for _, bin := range bins {
		if err := s.RecalibrateBin(ctx, bin); err != nil {
			return err
		}
	}
	logger.Info("bays set up", logging.Int("bins", len(bins)))
	return nil
}
