package config

const (
	defaultConfigPath          = "~/.config/autorip/config.toml"
	defaultSerialPort          = "/dev/ttyUSB0"
	defaultBaudRate            = 38400
	defaultReadTimeoutMS       = 1000
	defaultResponseTimeoutMS   = 5000
	defaultBinCapacity         = 108
	defaultDiscHeight          = 12
	defaultDefaultOffset       = 2304
	defaultMaxFaultRetries     = 30
	defaultMaxTransportRetries = 3
	defaultFaultBackoffInitial = 500
	defaultFaultBackoffMax     = 10000
	defaultCommandTimeout      = 600
	defaultDestinationDir      = "~/discs"
	defaultDDRescueBinary      = "ddrescue"
	defaultRetryPasses         = 3
	defaultBannerLines         = 10
	defaultMediaWaitAttempts   = 10
	defaultMediaWaitIntervalMS = 1000
	defaultScanRetries         = 3
	defaultScanRetryDelayMS    = 2000
	defaultLogDir              = "~/.local/share/autorip/logs"
	defaultStateDir            = "~/.local/share/autorip"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultMetricsFlush        = 15
	defaultDashboardLogLines   = 10
	defaultDashboardDriveLines = 200
	defaultNtfyRequestTimeout  = 10
)

// defaultDriveDevices lists drives top to bottom as they are cabled on the
// reference autoloader.
var defaultDriveDevices = []string{"/dev/sr3", "/dev/sr2", "/dev/sr0", "/dev/sr1"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Serial: Serial{
			Port:              defaultSerialPort,
			BaudRate:          defaultBaudRate,
			ReadTimeoutMS:     defaultReadTimeoutMS,
			ResponseTimeoutMS: defaultResponseTimeoutMS,
		},
		Bins:   defaultBins(),
		Drives: defaultDrives(),
		Calibration: Calibration{
			DiscHeight:    defaultDiscHeight,
			DefaultOffset: defaultDefaultOffset,
		},
		Robot: Robot{
			MaxFaultRetries:       defaultMaxFaultRetries,
			MaxTransportRetries:   defaultMaxTransportRetries,
			FaultBackoffInitialMS: defaultFaultBackoffInitial,
			FaultBackoffMaxMS:     defaultFaultBackoffMax,
			CommandTimeoutSeconds: defaultCommandTimeout,
		},
		Imaging: Imaging{
			DestinationDir:      defaultDestinationDir,
			DDRescueBinary:      defaultDDRescueBinary,
			RetryPasses:         defaultRetryPasses,
			BannerLines:         defaultBannerLines,
			MediaWaitAttempts:   defaultMediaWaitAttempts,
			MediaWaitIntervalMS: defaultMediaWaitIntervalMS,
			UseUdev:             true,
		},
		Orchestrator: Orchestrator{
			ScanRetries:      defaultScanRetries,
			ScanRetryDelayMS: defaultScanRetryDelayMS,
		},
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Metrics: Metrics{
			FlushIntervalSeconds: defaultMetricsFlush,
		},
		Dashboard: Dashboard{
			LogLines:   defaultDashboardLogLines,
			DriveLines: defaultDashboardDriveLines,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyRequestTimeout,
		},
	}
}

func defaultBins() []Bin {
	return []Bin{
		{Index: 1, Role: RoleInput, Capacity: defaultBinCapacity},
		{Index: 2, Role: RoleInput, Capacity: defaultBinCapacity},
		{Index: 3, Role: RoleOutput, Capacity: defaultBinCapacity},
		{Index: 4, Role: RoleOutput, Capacity: defaultBinCapacity},
	}
}

func defaultDrives() []Drive {
	drives := make([]Drive, 0, len(defaultDriveDevices))
	for i, device := range defaultDriveDevices {
		drives = append(drives, Drive{Index: i + 1, Device: device})
	}
	return drives
}
