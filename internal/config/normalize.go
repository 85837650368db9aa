package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeSerial()
	c.normalizeBins()
	c.normalizeDrives()
	c.normalizeRobot()
	if err := c.normalizeImaging(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeNotifications()
	return c.normalizeMetrics()
}

func (c *Config) normalizeSerial() {
	c.Serial.Port = strings.TrimSpace(c.Serial.Port)
	if value, ok := os.LookupEnv("AUTORIP_SERIAL_PORT"); ok && strings.TrimSpace(value) != "" {
		c.Serial.Port = strings.TrimSpace(value)
	}
	if c.Serial.Port == "" {
		c.Serial.Port = defaultSerialPort
	}
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = defaultBaudRate
	}
	if c.Serial.ReadTimeoutMS <= 0 {
		c.Serial.ReadTimeoutMS = defaultReadTimeoutMS
	}
	if c.Serial.ResponseTimeoutMS <= 0 {
		c.Serial.ResponseTimeoutMS = defaultResponseTimeoutMS
	}
}

func (c *Config) normalizeBins() {
	for i := range c.Bins {
		c.Bins[i].Role = BinRole(strings.ToLower(strings.TrimSpace(string(c.Bins[i].Role))))
		if c.Bins[i].Capacity == 0 {
			c.Bins[i].Capacity = defaultBinCapacity
		}
	}
	// Priority order within a role follows bin index.
	sort.SliceStable(c.Bins, func(i, j int) bool { return c.Bins[i].Index < c.Bins[j].Index })
}

func (c *Config) normalizeDrives() {
	for i := range c.Drives {
		device := strings.TrimSpace(c.Drives[i].Device)
		if device != "" && !strings.HasPrefix(device, "/") {
			device = filepath.Join("/dev", device)
		}
		c.Drives[i].Device = device
	}
	sort.SliceStable(c.Drives, func(i, j int) bool { return c.Drives[i].Index < c.Drives[j].Index })
}

func (c *Config) normalizeRobot() {
	if c.Robot.MaxFaultRetries <= 0 {
		c.Robot.MaxFaultRetries = defaultMaxFaultRetries
	}
	if c.Robot.MaxTransportRetries <= 0 {
		c.Robot.MaxTransportRetries = defaultMaxTransportRetries
	}
	if c.Robot.FaultBackoffInitialMS <= 0 {
		c.Robot.FaultBackoffInitialMS = defaultFaultBackoffInitial
	}
	if c.Robot.FaultBackoffMaxMS <= 0 {
		c.Robot.FaultBackoffMaxMS = defaultFaultBackoffMax
	}
	if c.Robot.CommandTimeoutSeconds <= 0 {
		c.Robot.CommandTimeoutSeconds = defaultCommandTimeout
	}
}

func (c *Config) normalizeImaging() error {
	if value, ok := os.LookupEnv("AUTORIP_DESTINATION"); ok && strings.TrimSpace(value) != "" {
		c.Imaging.DestinationDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Imaging.DestinationDir) == "" {
		c.Imaging.DestinationDir = defaultDestinationDir
	}
	var err error
	if c.Imaging.DestinationDir, err = expandPath(c.Imaging.DestinationDir); err != nil {
		return fmt.Errorf("imaging.destination_dir: %w", err)
	}
	c.Imaging.DDRescueBinary = strings.TrimSpace(c.Imaging.DDRescueBinary)
	if c.Imaging.DDRescueBinary == "" {
		c.Imaging.DDRescueBinary = defaultDDRescueBinary
	}
	if c.Imaging.RetryPasses <= 0 {
		c.Imaging.RetryPasses = defaultRetryPasses
	}
	if c.Imaging.BannerLines < 0 {
		c.Imaging.BannerLines = 0
	}
	if c.Imaging.MediaWaitAttempts <= 0 {
		c.Imaging.MediaWaitAttempts = defaultMediaWaitAttempts
	}
	if c.Imaging.MediaWaitIntervalMS <= 0 {
		c.Imaging.MediaWaitIntervalMS = defaultMediaWaitIntervalMS
	}
	if c.Orchestrator.ScanRetries <= 0 {
		c.Orchestrator.ScanRetries = defaultScanRetries
	}
	if c.Orchestrator.ScanRetryDelayMS < 0 {
		c.Orchestrator.ScanRetryDelayMS = 0
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Dashboard.LogLines <= 0 {
		c.Dashboard.LogLines = defaultDashboardLogLines
	}
	if c.Dashboard.DriveLines <= 0 {
		c.Dashboard.DriveLines = defaultDashboardDriveLines
	}
}

func (c *Config) normalizeMetrics() error {
	if strings.TrimSpace(c.Metrics.TextfilePath) != "" {
		var err error
		if c.Metrics.TextfilePath, err = expandPath(c.Metrics.TextfilePath); err != nil {
			return fmt.Errorf("metrics.textfile_path: %w", err)
		}
	}
	if c.Metrics.FlushIntervalSeconds <= 0 {
		c.Metrics.FlushIntervalSeconds = defaultMetricsFlush
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if value, ok := os.LookupEnv("AUTORIP_NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(value)
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyRequestTimeout
	}
}
