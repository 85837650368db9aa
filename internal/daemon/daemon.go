package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"autorip/internal/autoloader"
	"autorip/internal/config"
	"autorip/internal/disc"
	"autorip/internal/imaging"
	"autorip/internal/ledger"
	"autorip/internal/logging"
	"autorip/internal/metrics"
	"autorip/internal/notifications"
	"autorip/internal/orchestrator"
)

// ErrAlreadyRunning reports that another process holds the robot lock.
var ErrAlreadyRunning = errors.New("another autorip instance is already driving the autoloader")

// Options overrides process integration points. Zero values use the real
// serial port, external commands, and ddrescue.
type Options struct {
	Transport autoloader.Transport
	Runner    disc.Runner
	Executor  imaging.Executor
	Reporter  orchestrator.Reporter
	Metrics   *metrics.Recorder
	Notifier  notifications.Service
}

// Runtime holds the wired components for one process.
type Runtime struct {
	Config   *config.Config
	RunID    string
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	Engine   *autoloader.Engine
	Loader   *autoloader.Loader
	Ledger   *ledger.Store
	Pipeline *imaging.Pipeline
	Watcher  *disc.MediaWatcher
	Manager  *orchestrator.Manager

	lockPath string
	lock     *flock.Flock
}

// NewRunID returns a sortable identifier for one process run.
func NewRunID() string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// Open acquires the robot lock and wires every component. The caller must
// Close the runtime.
func Open(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:   cfg,
		RunID:    runID,
		Logger:   logger,
		Metrics:  opts.Metrics,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	ok, err := rt.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, rt.lockPath)
	}
	if err := rt.wire(ctx, opts); err != nil {
		rt.Close()
		return nil, err
	}
	logger.Info("autorip runtime ready",
		logging.String("lock", rt.lockPath),
		logging.String("ledger", rt.Ledger.Path()),
		logging.Int("drives", len(cfg.Drives)),
		logging.String(logging.FieldEventType, "runtime_ready"),
	)
	return rt, nil
}

func (rt *Runtime) wire(ctx context.Context, opts Options) error {
	cfg := rt.Config

	store, err := ledger.Open(cfg, rt.RunID)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	rt.Ledger = store

	transport := opts.Transport
	if transport == nil {
		framer, err := autoloader.OpenSerial(cfg.Serial.Port, cfg.Serial.BaudRate, autoloader.FramerOptionsFromConfig(cfg), rt.Logger)
		if err != nil {
			return err
		}
		transport = framer
	}
	rt.Engine = autoloader.NewEngine(transport, autoloader.OptionsFromConfig(cfg, rt.Metrics), rt.Logger)

	runner := opts.Runner
	if runner == nil {
		runner = disc.ExecRunner{}
	}
	rt.Loader = autoloader.NewLoader(cfg.Calibration, autoloader.LoaderDeps{
		Trays:   disc.NewTrayController(runner),
		Samples: store,
		Metrics: rt.Metrics,
		Logger:  rt.Logger,
	})

	pipelineOpts := []imaging.Option{imaging.WithMetrics(rt.Metrics), imaging.WithExecutor(opts.Executor)}
	if cfg.Imaging.UseUdev {
		rt.Watcher = disc.NewMediaWatcher(rt.Logger)
		if err := rt.Watcher.Start(ctx); err != nil {
			return err
		}
		pipelineOpts = append(pipelineOpts, imaging.WithWaker(rt.Watcher))
	}
	rt.Pipeline, err = imaging.New(imaging.OptionsFromConfig(cfg), disc.NewProber(runner), rt.Logger, pipelineOpts...)
	if err != nil {
		return err
	}

	rt.Manager, err = orchestrator.NewManager(cfg, orchestrator.Deps{
		Robot:    rt.Engine,
		Loader:   rt.Loader,
		Imager:   rt.Pipeline,
		History:  store,
		Reporter: opts.Reporter,
		Metrics:  rt.Metrics,
		Logger:   rt.Logger,
	})
	return err
}

// LockPath returns the robot lock file location.
func (rt *Runtime) LockPath() string {
	return rt.lockPath
}

// Close stops workers and releases every resource, including the lock.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.Manager != nil {
		rt.Manager.Stop()
	}
	if rt.Watcher != nil {
		rt.Watcher.Stop()
	}
	if rt.Engine != nil {
		if err := rt.Engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close robot link: %w", err))
		}
	}
	if rt.Ledger != nil {
		if err := rt.Ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	if rt.lock != nil {
		if err := rt.lock.Unlock(); err != nil {
			logging.WarnWithContext(rt.Logger, "failed to release robot lock", "lock_release_failed",
				logging.Error(err),
				logging.String("lock", rt.lockPath),
				logging.String(logging.FieldErrorHint, "remove the lock file if no autorip process is running"),
			)
		}
	}
	return errors.Join(errs...)
}
