package testsupport

import (
	"path/filepath"
	"testing"

	"autorip/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Robot timing is shortened so fault paths finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Serial.Port = filepath.Join(base, "tty")
	cfgVal.Imaging.DestinationDir = filepath.Join(base, "discs")
	cfgVal.Imaging.MediaWaitIntervalMS = 1
	cfgVal.Imaging.UseUdev = false
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Robot.FaultBackoffInitialMS = 1
	cfgVal.Robot.FaultBackoffMaxMS = 2
	cfgVal.Orchestrator.ScanRetryDelayMS = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDrives limits the config to the first n default drives.
func WithDrives(n int) ConfigOption {
	return func(b *configBuilder) {
		if n < len(b.cfg.Drives) {
			b.cfg.Drives = b.cfg.Drives[:n]
		}
	}
}

// WithBins replaces the bin topology.
func WithBins(bins ...config.Bin) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Bins = append([]config.Bin(nil), bins...)
	}
}

// WithMaxFaultRetries overrides the robot fault budget.
func WithMaxFaultRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Robot.MaxFaultRetries = n
	}
}

// BaseDir returns the temp root used by the builder.
func (b *configBuilder) BaseDir() string {
	return b.baseDir
}
