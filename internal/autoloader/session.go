package autoloader

import (
	"context"
	"time"

	"autorip/internal/logging"
	"autorip/internal/retry"
	"autorip/internal/services"
)

// Session is the handle a transaction uses to talk to the robot. It is only
// valid inside the function passed to Engine.Do.
type Session struct {
	engine     *Engine
	recovering bool
}

// Send issues command, probes status, and handles faults.
//
// A ready status returns the command's own response. A bay-door or door-open
// fault is logged once per episode, then the command is resent after a
// backoff. When the fault clears, the addressed bin is recalibrated once and
// the command restarts from the beginning. Unknown status codes are not
// faults and return the command response. Fault episodes that outlast the
// retry budget or the command deadline fail with a PersistentFaultError.
func (s *Session) Send(ctx context.Context, command string) (string, error) {
	e := s.engine
	ctx, cancel := context.WithTimeout(ctx, e.opts.CommandTimeout)
	defer cancel()

	logger := e.logger.With(logging.String(logging.FieldCommand, command))
	started := time.Now()
	backoff := retry.NewBackoff(e.opts.FaultBackoff)
	faulted := false
	faults := 0
	var lastStatus string

	for {
		response, err := e.exchange(ctx, command)
		if err != nil {
			return "", err
		}
		logger.Debug("robot response", logging.String(logging.FieldResponse, response))

		status, err := e.exchange(ctx, StatusProbe)
		if err != nil {
			return "", err
		}
		lastStatus = status
		kind := ClassifyStatus(status)

		switch {
		case kind == StatusReady && faulted:
			logger.Info("robot fault cleared; recovering",
				logging.String(logging.FieldEventType, "fault_cleared"),
				logging.Int("fault_attempts", faults),
			)
			s.recoverAfterFault(ctx, command)
			faulted = false
			backoff.Reset()
			continue
		case kind == StatusReady:
			return response, nil
		case kind.IsFault():
			if !faulted {
				logging.WarnWithContext(logger, "robot fault detected; retrying command", "robot_fault",
					logging.String("status", status),
					logging.String("fault", kind.String()),
					logging.String(logging.FieldErrorHint, faultHint(kind)),
					logging.String(logging.FieldImpact, "robot transfers pause until the fault clears"),
				)
				e.opts.Metrics.Fault(kind.String())
			}
			faulted = true
			faults++
		default:
			logging.WarnWithContext(logger, "unexpected status after command", "unexpected_status",
				logging.String("status", status),
				logging.String(logging.FieldErrorHint, "treated as success; check the robot if this repeats"),
				logging.String(logging.FieldImpact, "none"),
			)
			return response, nil
		}

		if faults >= e.opts.MaxFaultRetries {
			return "", s.persistentFault(command, lastStatus, faults, started)
		}
		if err := retry.Sleep(ctx, backoff.Next()); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", s.persistentFault(command, lastStatus, faults, started)
			}
			return "", err
		}
	}
}

func (s *Session) persistentFault(command, status string, attempts int, started time.Time) error {
	e := s.engine
	pf := &services.PersistentFaultError{
		Command:    command,
		LastStatus: status,
		Attempts:   attempts,
		Elapsed:    time.Since(started),
	}
	e.opts.Metrics.PersistentFault()
	logging.ErrorWithContext(e.logger, "robot fault did not clear", "persistent_fault",
		logging.String(logging.FieldCommand, command),
		logging.String("status", status),
		logging.Int("attempts", attempts),
		logging.Duration("elapsed", pf.Elapsed),
		logging.String(logging.FieldErrorHint, faultHint(ClassifyStatus(status))),
		logging.Alert("operator_required"),
	)
	return pf
}

// recoverAfterFault recalibrates the bin a faulted probe or pick addressed. Nested
// sends issued here never trigger another recovery.
func (s *Session) recoverAfterFault(ctx context.Context, command string) {
	if s.recovering {
		return
	}
	bin, ok := binFromCommand(command)
	if !ok {
		s.engine.logger.Info("skipping recalibration; command does not address a bin pick or probe",
			logging.String(logging.FieldCommand, command),
			logging.String(logging.FieldEventType, "recalibration_skipped"),
		)
		return
	}
	s.recovering = true
	defer func() { s.recovering = false }()
	if err := s.RecalibrateBin(ctx, bin); err != nil {
		logging.WarnWithContext(s.engine.logger, "recalibration after fault failed", "recalibration_failed",
			logging.Bin(bin),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the original command is retried anyway"),
		)
	}
}

func faultHint(kind Status) string {
	switch kind {
	case StatusBayDoorFault:
		return "close the bin bay door"
	case StatusDoorOpenFault:
		return "close the autoloader front door"
	default:
		return "inspect the autoloader"
	}
}
