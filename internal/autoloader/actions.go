package autoloader

import (
	"context"
	"strings"

	"autorip/internal/config"
	"autorip/internal/logging"
	"autorip/internal/services"
)

// PickFromBin grabs the top disc of bin. It reports false only when the
// robot answered with the no-disc code and no pick acknowledgement.
func (l *Loader) PickFromBin(ctx context.Context, s *Session, bin int) (bool, error) {
	response, err := s.Send(ctx, BinPickCommand(bin))
	if err != nil {
		return false, err
	}
	picked := PickAcknowledged(response)
	logger := logging.WithContext(ctx, l.logger)
	if picked {
		logger.Info("disc picked from bin", logging.Bin(bin))
	} else {
		logger.Info("no disc available in bin", logging.Bin(bin))
	}
	return picked, nil
}

// PlaceInBin drops the held disc into bin.
func (l *Loader) PlaceInBin(ctx context.Context, s *Session, bin int) error {
	return l.action(ctx, s, BinPlaceCommand(bin), "place in bin", logging.Bin(bin))
}

// MoveToDrive positions the arm at the drive's bay.
func (l *Loader) MoveToDrive(ctx context.Context, s *Session, drive config.Drive) error {
	return l.action(ctx, s, MoveToDriveCommand(drive.BayFor()), "move to drive", logging.Drive(drive.Index))
}

// PlaceInDrive drops the held disc into the drive's open tray.
func (l *Loader) PlaceInDrive(ctx context.Context, s *Session, drive config.Drive) error {
	return l.action(ctx, s, DrivePlaceCommand(drive.BayFor()), "place in drive", logging.Drive(drive.Index))
}

// PickFromDrive grabs the disc from the drive's open tray.
func (l *Loader) PickFromDrive(ctx context.Context, s *Session, drive config.Drive) error {
	return l.action(ctx, s, DrivePickCommand(drive.BayFor()), "pick from drive", logging.Drive(drive.Index))
}

// OpenTray ejects the drive tray. Failures are logged and ignored.
func (l *Loader) OpenTray(ctx context.Context, drive config.Drive) {
	if l.trays == nil {
		return
	}
	if err := l.trays.Open(ctx, drive.Device); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, l.logger), "tray open failed", "tray_open_failed",
			logging.Drive(drive.Index),
			logging.String("device", drive.Device),
			logging.Error(err),
			logging.String(logging.FieldImpact, "arm proceeds; the tray may already be open"),
		)
	}
}

// CloseTray retracts the drive tray. Failures are logged and ignored.
func (l *Loader) CloseTray(ctx context.Context, drive config.Drive) {
	if l.trays == nil {
		return
	}
	if err := l.trays.Close(ctx, drive.Device); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, l.logger), "tray close failed", "tray_close_failed",
			logging.Drive(drive.Index),
			logging.String("device", drive.Device),
			logging.Error(err),
			logging.String(logging.FieldImpact, "media detection may time out"),
		)
	}
}

// action sends a mechanical command. Robot errors are returned; an empty or
// no-disc response is logged as a mechanical failure and left to the caller.
func (l *Loader) action(ctx context.Context, s *Session, command, name string, target logging.Attr) error {
	response, err := s.Send(ctx, command)
	if err != nil {
		return err
	}
	if response == "" || strings.Contains(response, noDiscCode) {
		failure := services.Wrap(services.ErrMechanicalFailure, "loader", name, "unexpected response", nil)
		logging.WarnWithContext(logging.WithContext(ctx, l.logger), "mechanical action not acknowledged", "mechanical_failure",
			target,
			logging.String(logging.FieldCommand, command),
			logging.String(logging.FieldResponse, response),
			logging.Error(failure),
			logging.String(logging.FieldImpact, "sequence continues"),
		)
	}
	return nil
}
