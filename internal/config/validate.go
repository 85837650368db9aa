package config

import (
	"errors"
	"fmt"
	"strings"
)

const maxSlots = 4

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSerial(); err != nil {
		return err
	}
	if err := c.validateBins(); err != nil {
		return err
	}
	if err := c.validateDrives(); err != nil {
		return err
	}
	if err := c.validateCalibration(); err != nil {
		return err
	}
	if err := c.validateRobot(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateSerial() error {
	if strings.TrimSpace(c.Serial.Port) == "" {
		return errors.New("serial.port must be set")
	}
	if c.Serial.BaudRate <= 0 {
		return errors.New("serial.baud_rate must be positive")
	}
	if c.Serial.ResponseTimeoutMS < c.Serial.ReadTimeoutMS {
		return errors.New("serial.response_timeout_ms must be >= serial.read_timeout_ms")
	}
	return nil
}

func (c *Config) validateBins() error {
	if len(c.Bins) == 0 {
		return errors.New("at least one [[bins]] entry is required")
	}
	seen := make(map[int]struct{}, len(c.Bins))
	var inputs, outputs int
	for _, bin := range c.Bins {
		if bin.Index < 1 || bin.Index > maxSlots {
			return fmt.Errorf("bins: index %d out of range 1..%d", bin.Index, maxSlots)
		}
		if _, dup := seen[bin.Index]; dup {
			return fmt.Errorf("bins: index %d configured more than once", bin.Index)
		}
		seen[bin.Index] = struct{}{}
		if bin.Capacity <= 0 {
			return fmt.Errorf("bins: bin %d capacity must be positive", bin.Index)
		}
		switch bin.Role {
		case RoleInput:
			inputs++
		case RoleOutput:
			outputs++
		default:
			return fmt.Errorf("bins: bin %d role must be input or output, got %q", bin.Index, bin.Role)
		}
	}
	if inputs == 0 {
		return errors.New("bins: at least one input bin is required")
	}
	if outputs == 0 {
		return errors.New("bins: at least one output bin is required")
	}
	return nil
}

func (c *Config) validateDrives() error {
	if len(c.Drives) == 0 {
		return errors.New("at least one [[drives]] entry is required")
	}
	seen := make(map[int]struct{}, len(c.Drives))
	for _, drive := range c.Drives {
		if drive.Index < 1 || drive.Index > maxSlots {
			return fmt.Errorf("drives: index %d out of range 1..%d", drive.Index, maxSlots)
		}
		if _, dup := seen[drive.Index]; dup {
			return fmt.Errorf("drives: index %d configured more than once", drive.Index)
		}
		seen[drive.Index] = struct{}{}
		if drive.Device == "" {
			return fmt.Errorf("drives: drive %d device must be set", drive.Index)
		}
		if bay := drive.BayFor(); bay < 0 || bay > 9 {
			return fmt.Errorf("drives: drive %d bay %d must be a single digit", drive.Index, bay)
		}
	}
	return nil
}

func (c *Config) validateCalibration() error {
	if c.Calibration.DiscHeight <= 0 {
		return errors.New("calibration.disc_height must be positive")
	}
	return nil
}

func (c *Config) validateRobot() error {
	if c.Robot.FaultBackoffMaxMS < c.Robot.FaultBackoffInitialMS {
		return errors.New("robot.fault_backoff_max_ms must be >= robot.fault_backoff_initial_ms")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
