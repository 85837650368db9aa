package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"autorip/internal/autoloader"
	"autorip/internal/config"
	"autorip/internal/imaging"
	"autorip/internal/ledger"
	"autorip/internal/logging"
	"autorip/internal/retry"
	"autorip/internal/services"
)

// runWorker loads, images, and unloads discs for one drive until input runs
// out, output fills, an error occurs, or ctx ends.
func (m *Manager) runWorker(ctx context.Context, drive config.Drive) WorkerResult {
	ctx = services.WithDrive(ctx, drive.Index)
	logger := logging.WithContext(ctx, m.logger).With(logging.String("device", drive.Device))
	result := WorkerResult{Drive: drive.Index, Device: drive.Device}

	m.metrics.WorkerActive(drive.Index, true)
	defer m.metrics.WorkerActive(drive.Index, false)

	err := m.workLoop(ctx, drive, logger, &result)
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		err = nil
	}
	result.Err = err
	result.Outcome = services.Outcome(err)
	m.reporter.DriveStatus(drive.Index, result.Outcome)

	switch {
	case err == nil:
		logger.Info("drive worker stopped", logging.Int("discs", result.Discs),
			logging.Bool("disc_in_drive", result.DiscInDrive),
			logging.String(logging.FieldEventType, "worker_stopped"),
		)
	case services.IsTerminal(err):
		logger.Info("drive worker finished", logging.Int("discs", result.Discs),
			logging.Bool("disc_in_drive", result.DiscInDrive),
			logging.String("reason", result.Outcome),
			logging.String(logging.FieldEventType, "worker_finished"),
		)
	default:
		logging.ErrorWithContext(logger, "drive worker stopped on error", "worker_failed",
			logging.Int("discs", result.Discs),
			logging.Bool("disc_in_drive", result.DiscInDrive),
			logging.String("reason", result.Outcome),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "other drives keep running; check this drive and the robot"),
		)
	}
	return result
}

func (m *Manager) workLoop(ctx context.Context, drive config.Drive, logger *slog.Logger, result *WorkerResult) error {
	output := func(line string) { m.reporter.DriveOutput(drive.Index, line) }

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.reporter.DriveStatus(drive.Index, "loading")
		sourceBin, err := m.loadDrive(ctx, drive, logger)
		if err != nil {
			return err
		}
		output(fmt.Sprintf("Disc loaded from bin %d", sourceBin))

		m.reporter.DriveStatus(drive.Index, "imaging")
		job, imageErr := m.image(ctx, drive, sourceBin, output)
		if ctx.Err() != nil {
			result.DiscInDrive = true
			return ctx.Err()
		}
		m.metrics.DiscFinished(drive.Index, discResult(imageErr))

		m.reporter.DriveStatus(drive.Index, "unloading")
		outputBin, unloadErr := m.unloadDrive(ctx, drive, logger)
		if unloadErr == nil {
			output(fmt.Sprintf("Disc placed in bin %d", outputBin))
			if job != nil && m.history != nil {
				if err := m.history.SetOutputBin(ctx, job.ID, outputBin); err != nil {
					logger.Debug("output bin not recorded", logging.Error(err))
				}
			}
		}

		if unloadErr != nil {
			result.DiscInDrive = true
		}
		if imageErr != nil {
			return imageErr
		}
		if unloadErr != nil {
			return unloadErr
		}
		result.Discs++
	}
}

func (m *Manager) image(ctx context.Context, drive config.Drive, sourceBin int, output imaging.OutputFunc) (*imaging.Job, error) {
	job, err := m.imager.Prepare(ctx, drive, output)
	if err != nil {
		return job, err
	}
	if m.history != nil {
		if err := m.history.StartJob(ctx, job, sourceBin); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, m.logger), "imaging job not recorded", "ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "history for this disc is incomplete"),
			)
		}
	}
	m.reporter.DriveStatus(drive.Index, "imaging "+job.Label)
	err = m.imager.Rescue(ctx, job, output)
	if m.history != nil {
		status := ledger.JobSucceeded
		switch {
		case ctx.Err() != nil:
			status = ledger.JobCancelled
		case err != nil:
			status = ledger.JobFailed
		}
		// The run context may already be cancelled; the outcome still
		// belongs in the ledger.
		if herr := m.history.FinishJob(context.WithoutCancel(ctx), job, status, err); herr != nil {
			logger := logging.WithContext(ctx, m.logger)
			logger.Debug("job outcome not recorded", logging.Error(herr))
		}
	}
	return job, err
}

// loadDrive moves a disc from the first stocked input bin into drive. It
// retries the scan when some bins could not be read or a bin that reported
// discs had none to pick; ErrNoInput means every input bin read as empty.
func (m *Manager) loadDrive(ctx context.Context, drive config.Drive, logger *slog.Logger) (int, error) {
	inputs := m.cfg.InputBins()
	for attempt := 0; ; attempt++ {
		if err := m.requireLink(ctx); err != nil {
			return 0, err
		}
		var loaded int
		var unknown bool
		err := m.robot.Do(ctx, func(s *autoloader.Session) error {
			for _, bin := range inputs {
				reading, err := m.loader.QueryBin(ctx, s, bin)
				if err != nil && !errors.Is(err, services.ErrInventoryFault) {
					return err
				}
				if !reading.Known {
					unknown = true
					continue
				}
				if reading.Count == 0 {
					continue
				}
				picked, err := m.loader.PickFromBin(ctx, s, bin.Index)
				if err != nil {
					return err
				}
				if !picked {
					logging.WarnWithContext(logger, "bin reported discs but the pick found none", "pick_missed",
						logging.Bin(bin.Index),
						logging.Int("reported", reading.Count),
						logging.String(logging.FieldErrorHint, "recalibrate the bin if this repeats"),
						logging.String(logging.FieldImpact, "input bins are rescanned"),
					)
					unknown = true
					continue
				}
				loaded = bin.Index
				break
			}
			if loaded == 0 {
				return nil
			}
			if err := m.loader.MoveToDrive(ctx, s, drive); err != nil {
				return err
			}
			m.loader.OpenTray(ctx, drive)
			if err := m.loader.PlaceInDrive(ctx, s, drive); err != nil {
				return err
			}
			m.loader.CloseTray(ctx, drive)
			return nil
		})
		if err != nil {
			return 0, err
		}
		if loaded > 0 {
			logger.Info("disc loaded", logging.Bin(loaded), logging.String(logging.FieldEventType, "disc_loaded"))
			return loaded, nil
		}
		if !unknown {
			logger.Info("no discs left in input bins", logging.String(logging.FieldEventType, "input_exhausted"))
			return 0, services.ErrNoInput
		}
		if err := m.awaitRescan(ctx, logger, attempt, "input"); err != nil {
			return 0, err
		}
	}
}

// unloadDrive moves the disc in drive to the first output bin with room.
func (m *Manager) unloadDrive(ctx context.Context, drive config.Drive, logger *slog.Logger) (int, error) {
	outputs := m.cfg.OutputBins()
	for attempt := 0; ; attempt++ {
		if err := m.requireLink(ctx); err != nil {
			return 0, err
		}
		var target int
		var unknown bool
		err := m.robot.Do(ctx, func(s *autoloader.Session) error {
			for _, bin := range outputs {
				reading, err := m.loader.QueryBin(ctx, s, bin)
				if err != nil && !errors.Is(err, services.ErrInventoryFault) {
					return err
				}
				if !reading.Known {
					unknown = true
					continue
				}
				if reading.Count < bin.Capacity {
					target = bin.Index
					break
				}
			}
			if target == 0 {
				return nil
			}
			if err := m.loader.MoveToDrive(ctx, s, drive); err != nil {
				return err
			}
			m.loader.OpenTray(ctx, drive)
			if err := m.loader.PickFromDrive(ctx, s, drive); err != nil {
				return err
			}
			m.loader.CloseTray(ctx, drive)
			return m.loader.PlaceInBin(ctx, s, target)
		})
		if err != nil {
			return 0, err
		}
		if target > 0 {
			logger.Info("disc unloaded", logging.Bin(target), logging.String(logging.FieldEventType, "disc_unloaded"))
			return target, nil
		}
		if !unknown {
			logger.Info("all output bins are full", logging.String(logging.FieldEventType, "output_full"))
			return 0, services.ErrNoOutputCapacity
		}
		if err := m.awaitRescan(ctx, logger, attempt, "output"); err != nil {
			return 0, err
		}
	}
}

func (m *Manager) awaitRescan(ctx context.Context, logger *slog.Logger, attempt int, role string) error {
	if attempt >= m.scanRetries {
		return services.Wrap(services.ErrInventoryFault, "orchestrator", "scan "+role+" bins",
			fmt.Sprintf("bin counts unknown after %d scans", attempt+1), nil)
	}
	logging.WarnWithContext(logger, "some bins could not be read; rescanning", "inventory_rescan",
		logging.String("role", role),
		logging.Int("attempt", attempt+1),
		logging.String(logging.FieldImpact, "disc transfer delayed"),
	)
	return retry.Sleep(ctx, m.scanRetryDelay)
}

// requireLink lets a sequence start on a healthy link. An unhealthy link gets
// one status probe; it succeeds only if that probe goes through.
func (m *Manager) requireLink(ctx context.Context) error {
	health := m.robot.Health()
	if health.Healthy {
		return nil
	}
	if err := m.robot.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrLinkDown, "orchestrator", "robot sequence", health.LastError, err)
	}
	return nil
}

func discResult(err error) string {
	if err == nil {
		return "succeeded"
	}
	return "failed"
}
