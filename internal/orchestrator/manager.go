package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"autorip/internal/autoloader"
	"autorip/internal/config"
	"autorip/internal/imaging"
	"autorip/internal/ledger"
	"autorip/internal/logging"
	"autorip/internal/metrics"
	"autorip/internal/services"
)

// Robot is the part of the autoloader engine workers need.
type Robot interface {
	Do(ctx context.Context, fn func(*autoloader.Session) error) error
	Health() autoloader.Health
	Ping(ctx context.Context) error
}

// Imager images the disc in a drive.
type Imager interface {
	Prepare(ctx context.Context, drive config.Drive, output imaging.OutputFunc) (*imaging.Job, error)
	Rescue(ctx context.Context, job *imaging.Job, output imaging.OutputFunc) error
}

// History records job outcomes.
type History interface {
	StartJob(ctx context.Context, job *imaging.Job, sourceBin int) error
	FinishJob(ctx context.Context, job *imaging.Job, status ledger.JobStatus, jobErr error) error
	SetOutputBin(ctx context.Context, jobID string, bin int) error
}

// Reporter receives per-drive progress for display.
type Reporter interface {
	DriveOutput(drive int, line string)
	DriveStatus(drive int, status string)
}

// Deps wires collaborators into a Manager. History, Reporter, and Metrics
// are optional.
type Deps struct {
	Robot    Robot
	Loader   *autoloader.Loader
	Imager   Imager
	History  History
	Reporter Reporter
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// WorkerResult is the final state of one drive worker.
type WorkerResult struct {
	Drive  int
	Device string
	// Discs counts discs imaged and placed in an output bin.
	Discs int
	// DiscInDrive is set when the worker stopped with a disc still loaded.
	DiscInDrive bool
	Outcome     string
	Err         error
}

// Manager runs one worker per configured drive, all sharing one robot.
type Manager struct {
	cfg      *config.Config
	robot    Robot
	loader   *autoloader.Loader
	imager   Imager
	history  History
	reporter Reporter
	metrics  *metrics.Recorder
	logger   *slog.Logger

	scanRetries    int
	scanRetryDelay time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	results []WorkerResult
}

// NewManager constructs a manager for cfg's drives.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Robot == nil || deps.Loader == nil || deps.Imager == nil {
		return nil, errors.New("orchestrator requires robot, loader, and imager")
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Manager{
		cfg:            cfg,
		robot:          deps.Robot,
		loader:         deps.Loader,
		imager:         deps.Imager,
		history:        deps.History,
		reporter:       reporter,
		metrics:        deps.Metrics,
		logger:         logging.NewComponentLogger(deps.Logger, "orchestrator"),
		scanRetries:    cfg.Orchestrator.ScanRetries,
		scanRetryDelay: time.Duration(cfg.Orchestrator.ScanRetryDelayMS) * time.Millisecond,
	}, nil
}

// Start launches the drive workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("orchestrator already running")
	}
	if len(m.cfg.Drives) == 0 {
		return services.Wrap(services.ErrConfiguration, "orchestrator", "start", "no drives configured", nil)
	}
	if health := m.robot.Health(); !health.Healthy {
		return services.Wrap(services.ErrLinkDown, "orchestrator", "start", health.LastError, nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.results = make([]WorkerResult, len(m.cfg.Drives))

	m.logger.Info("starting drive workers",
		logging.Int("drives", len(m.cfg.Drives)),
		logging.String(logging.FieldEventType, "workers_started"),
	)
	m.wg.Add(len(m.cfg.Drives))
	for i, drive := range m.cfg.Drives {
		go func(slot int, drive config.Drive) {
			defer m.wg.Done()
			result := m.runWorker(runCtx, drive)
			m.mu.Lock()
			m.results[slot] = result
			m.mu.Unlock()
		}(i, drive)
	}
	return nil
}

// Stop cancels the workers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Wait blocks until every worker has exited and returns their results in
// drive order.
func (m *Manager) Wait() []WorkerResult {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.running = false
	return append([]WorkerResult(nil), m.results...)
}

// Run starts the workers and waits for all of them.
func (m *Manager) Run(ctx context.Context) ([]WorkerResult, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m.Wait(), nil
}

// Inventory probes every configured bin.
func (m *Manager) Inventory(ctx context.Context) ([]autoloader.BinReading, error) {
	var readings []autoloader.BinReading
	err := m.robot.Do(ctx, func(s *autoloader.Session) error {
		var err error
		readings, err = m.loader.ScanBins(ctx, s, m.cfg.Bins)
		return err
	})
	return readings, err
}

// SetupBays clears latched status and re-seats every configured bin.
func (m *Manager) SetupBays(ctx context.Context) error {
	bins := make([]int, 0, len(m.cfg.Bins))
	for _, bin := range m.cfg.Bins {
		bins = append(bins, bin.Index)
	}
	return m.robot.Do(ctx, func(s *autoloader.Session) error {
		return s.SetupBays(ctx, bins)
	})
}

type nopReporter struct{}

func (nopReporter) DriveOutput(int, string) {}

func (nopReporter) DriveStatus(int, string) {}
