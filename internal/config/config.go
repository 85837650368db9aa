package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// BinRole marks a storage bin as a source of blank-to-image discs or a sink
// for imaged ones.
type BinRole string

const (
	RoleInput  BinRole = "input"
	RoleOutput BinRole = "output"
)

// Serial contains the robot serial link settings.
type Serial struct {
	Port              string `toml:"port"`
	BaudRate          int    `toml:"baud_rate"`
	ReadTimeoutMS     int    `toml:"read_timeout_ms"`
	ResponseTimeoutMS int    `toml:"response_timeout_ms"`
}

// Bin describes one of the autoloader storage bins. Index is one-based.
type Bin struct {
	Index    int     `toml:"index"`
	Role     BinRole `toml:"role"`
	Capacity int     `toml:"capacity"`
}

// Drive describes one optical drive reachable by the arm. Bay is the wire
// address used in drive opcodes and defaults to Index-1.
type Drive struct {
	Index  int    `toml:"index"`
	Device string `toml:"device"`
	Bay    *int   `toml:"bay"`
}

// Calibration holds the bin sensor constants used to convert a stack offset
// into a disc count.
type Calibration struct {
	DiscHeight    float64 `toml:"disc_height"`
	DefaultOffset float64 `toml:"default_offset"`
}

// Robot contains fault recovery tuning for the command engine.
type Robot struct {
	MaxFaultRetries       int `toml:"max_fault_retries"`
	MaxTransportRetries   int `toml:"max_transport_retries"`
	FaultBackoffInitialMS int `toml:"fault_backoff_initial_ms"`
	FaultBackoffMaxMS     int `toml:"fault_backoff_max_ms"`
	CommandTimeoutSeconds int `toml:"command_timeout_seconds"`
}

// Imaging contains ddrescue and media detection settings.
type Imaging struct {
	DestinationDir      string `toml:"destination_dir"`
	DDRescueBinary      string `toml:"ddrescue_binary"`
	RetryPasses         int    `toml:"retry_passes"`
	BannerLines         int    `toml:"banner_lines"`
	MediaWaitAttempts   int    `toml:"media_wait_attempts"`
	MediaWaitIntervalMS int    `toml:"media_wait_interval_ms"`
	UseUdev             bool   `toml:"use_udev"`
}

// Orchestrator contains per-drive worker settings.
type Orchestrator struct {
	ScanRetries      int `toml:"scan_retries"`
	ScanRetryDelayMS int `toml:"scan_retry_delay_ms"`
}

// Paths contains directory configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains the Prometheus textfile export settings.
type Metrics struct {
	TextfilePath         string `toml:"textfile_path"`
	FlushIntervalSeconds int    `toml:"flush_interval_seconds"`
}

// Dashboard contains window sizes for the live status view.
type Dashboard struct {
	LogLines   int `toml:"log_lines"`
	DriveLines int `toml:"drive_lines"`
}

// Notifications contains the ntfy push settings. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Config encapsulates all configuration values for autorip.
//
// Configuration sections by subsystem:
//   - Serial: robot link device and timing
//   - Bins, Drives: autoloader topology
//   - Calibration: bin sensor constants
//   - Robot: fault retry and command deadlines
//   - Imaging: ddrescue phases and media detection
//   - Orchestrator: inventory scan retries
//   - Paths, Logging, Metrics, Dashboard: ambient settings
//   - Notifications: ntfy push on run completion and drive faults
type Config struct {
	Serial        Serial        `toml:"serial"`
	Bins          []Bin         `toml:"bins"`
	Drives        []Drive       `toml:"drives"`
	Calibration   Calibration   `toml:"calibration"`
	Robot         Robot         `toml:"robot"`
	Imaging       Imaging       `toml:"imaging"`
	Orchestrator  Orchestrator  `toml:"orchestrator"`
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
	Dashboard     Dashboard     `toml:"dashboard"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file beside the config (or in the
// working directory) seeds environment fallbacks before normalization.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	loadDotEnv(filepath.Dir(resolvedPath))

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		cfg.Bins, cfg.Drives = nil, nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		// Arrays of tables replace the defaults wholesale.
		if len(cfg.Bins) == 0 {
			cfg.Bins = defaultBins()
		}
		if len(cfg.Drives) == 0 {
			cfg.Drives = defaultDrives()
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv reads .env files without overriding variables already set.
func loadDotEnv(dirs ...string) {
	candidates := make([]string, 0, len(dirs)+1)
	for _, dir := range dirs {
		if strings.TrimSpace(dir) != "" {
			candidates = append(candidates, filepath.Join(dir, ".env"))
		}
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			_ = godotenv.Load(candidate)
		}
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autorip.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log and state directories. The imaging
// destination is created on a best-effort basis so inventory commands still
// work while external storage is offline.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Imaging.DestinationDir) != "" {
		_ = os.MkdirAll(c.Imaging.DestinationDir, 0o755)
	}
	return nil
}

// LedgerPath returns the SQLite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}

// LockPath returns the robot lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "autorip.lock")
}

// InputBins returns input bins in priority order.
func (c *Config) InputBins() []Bin {
	return c.binsWithRole(RoleInput)
}

// OutputBins returns output bins in priority order.
func (c *Config) OutputBins() []Bin {
	return c.binsWithRole(RoleOutput)
}

func (c *Config) binsWithRole(role BinRole) []Bin {
	out := make([]Bin, 0, len(c.Bins))
	for _, bin := range c.Bins {
		if bin.Role == role {
			out = append(out, bin)
		}
	}
	return out
}

// BayFor returns the wire address configured for the drive.
func (d Drive) BayFor() int {
	if d.Bay != nil {
		return *d.Bay
	}
	return d.Index - 1
}

// SerialReadTimeout returns the per-read idle timeout.
func (c *Config) SerialReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMS) * time.Millisecond
}

// SerialResponseTimeout returns the overall response deadline.
func (c *Config) SerialResponseTimeout() time.Duration {
	return time.Duration(c.Serial.ResponseTimeoutMS) * time.Millisecond
}

// CommandTimeout returns the per-command deadline for robot sequences.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Robot.CommandTimeoutSeconds) * time.Second
}

// DDRescueBinary returns the ddrescue executable name.
func (c *Config) DDRescueBinary() string {
	if strings.TrimSpace(c.Imaging.DDRescueBinary) == "" {
		return defaultDDRescueBinary
	}
	return c.Imaging.DDRescueBinary
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// ErrConfigExists is returned by CreateSample when it would replace a file.
var ErrConfigExists = errors.New("config file already exists")

// CreateSample writes the sample configuration to path. An existing file is
// replaced only when overwrite is set.
func CreateSample(path string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w at %s", ErrConfigExists, path)
	}
	if err != nil {
		return fmt.Errorf("open sample config: %w", err)
	}
	if _, err := file.WriteString(sampleConfig); err != nil {
		file.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return file.Close()
}
