package orchestrator

import (
	"context"

	"autorip/internal/logging"
	"autorip/internal/services"
)

// LoadTest loads every drive from the input bins top to bottom, then
// unloads them in reverse order into the output bins. No imaging runs.
func (m *Manager) LoadTest(ctx context.Context) error {
	logger := m.logger.With(logging.String(logging.FieldEventType, "load_test"))
	loaded := 0
	for _, drive := range m.cfg.Drives {
		driveCtx := services.WithDrive(ctx, drive.Index)
		if _, err := m.loadDrive(driveCtx, drive, logging.WithContext(driveCtx, logger)); err != nil {
			if services.IsTerminal(err) {
				logger.Info("load test ran out of input", logging.Int("loaded", loaded))
				break
			}
			return err
		}
		loaded++
	}
	for i := loaded - 1; i >= 0; i-- {
		drive := m.cfg.Drives[i]
		driveCtx := services.WithDrive(ctx, drive.Index)
		if _, err := m.unloadDrive(driveCtx, drive, logging.WithContext(driveCtx, logger)); err != nil {
			return err
		}
	}
	logger.Info("load test complete", logging.Int("drives", loaded))
	return nil
}
