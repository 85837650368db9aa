package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"autorip/internal/config"
	"autorip/internal/dashboard"
	"autorip/internal/logging"
	"autorip/internal/metrics"
	"autorip/internal/notifications"
	"autorip/internal/orchestrator"
	"autorip/internal/services"
)

// RunOptions configures one ripping run.
type RunOptions struct {
	// Setup re-seats every bin before workers start.
	Setup bool
	// Interactive shows the dashboard; otherwise logs go to the console.
	Interactive bool
	Input       io.Reader
	Output      io.Writer
	Options
}

// Summary reports how a run ended.
type Summary struct {
	RunID   string
	LogPath string
	Results []orchestrator.WorkerResult
}

// Discs returns the number of discs imaged successfully.
func (s Summary) Discs() int {
	total := 0
	for _, result := range s.Results {
		total += result.Discs
	}
	return total
}

// Failed reports whether any worker stopped on an error.
func (s Summary) Failed() bool {
	for _, result := range s.Results {
		if result.Err != nil && !services.IsTerminal(result.Err) {
			return true
		}
	}
	return false
}

// Run drives every configured drive until input is exhausted, output is
// full, or the process is interrupted.
func Run(cmdCtx context.Context, cfg *config.Config, opts RunOptions) (Summary, error) {
	if cfg == nil {
		return Summary{}, fmt.Errorf("config is required")
	}

	signalCtx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	runID := NewRunID()
	summary := Summary{RunID: runID}

	rec := opts.Metrics
	if rec == nil && cfg.Metrics.TextfilePath != "" {
		rec = metrics.New()
	}
	opts.Metrics = rec
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	var agg *dashboard.Aggregator
	aggCtx, stopAggregator := context.WithCancel(context.Background())
	defer stopAggregator()
	aggDone := make(chan struct{})
	if opts.Interactive {
		agg = dashboard.NewAggregator(cfg.Drives, dashboard.OptionsFromConfig(cfg, rec))
		opts.Reporter = agg
		go func() {
			agg.Run(aggCtx)
			close(aggDone)
		}()
	} else {
		close(aggDone)
	}

	var sink logging.LogEventSink
	if agg != nil {
		sink = agg
	}
	logger, logPath, err := logging.NewFromConfig(cfg, runID, !opts.Interactive, sink)
	if err != nil {
		return summary, fmt.Errorf("init logger: %w", err)
	}
	summary.LogPath = logPath

	logging.PruneRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath)
	if rec != nil {
		go rec.Run(runCtx, cfg.Metrics.TextfilePath, time.Duration(cfg.Metrics.FlushIntervalSeconds)*time.Second, logger)
	}

	rt, err := Open(runCtx, cfg, runID, logger, opts.Options)
	if err != nil {
		logging.ErrorWithContext(logger, "autorip could not start", "startup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `autorip check` to verify the serial port, tools, and directories"),
		)
		stopAggregator()
		<-aggDone
		return summary, err
	}
	defer rt.Close()

	if opts.Setup {
		logger.Info("setting up bays", logging.String(logging.FieldEventType, "bay_setup"))
		if err := rt.Manager.SetupBays(runCtx); err != nil {
			stopAggregator()
			<-aggDone
			return summary, fmt.Errorf("set up bays: %w", err)
		}
	}

	if err := rt.Manager.Start(runCtx); err != nil {
		stopAggregator()
		<-aggDone
		return summary, err
	}
	started := time.Now()
	notifyCtx := context.WithoutCancel(cmdCtx)
	if err := notifier.NotifyRunStarted(notifyCtx, len(cfg.Drives)); err != nil {
		logNotifyFailure(logger, err)
	}

	if agg != nil {
		workersDone := make(chan struct{})
		go func() {
			summary.Results = rt.Manager.Wait()
			close(workersDone)
		}()
		go func() {
			select {
			case <-workersDone:
			case <-runCtx.Done():
				<-workersDone
			}
			stopAggregator()
		}()
		if err := dashboard.Run(agg, cancel, opts.Input, opts.Output); err != nil {
			cancel()
			fmt.Fprintf(os.Stderr, "warn: dashboard exited: %v\n", err)
		}
		<-workersDone
		<-aggDone
	} else {
		summary.Results = rt.Manager.Wait()
	}

	logSummary(logger, summary)
	notifyOutcome(notifyCtx, notifier, logger, summary, time.Since(started))
	return summary, nil
}

func notifyOutcome(ctx context.Context, notifier notifications.Service, logger *slog.Logger, summary Summary, elapsed time.Duration) {
	failed := 0
	for _, result := range summary.Results {
		if result.Err == nil || services.IsTerminal(result.Err) {
			continue
		}
		failed++
		if err := notifier.NotifyDriveStopped(ctx, result.Drive, result.Device, result.Err); err != nil {
			logNotifyFailure(logger, err)
		}
	}
	if err := notifier.NotifyRunCompleted(ctx, summary.Discs(), failed, elapsed); err != nil {
		logNotifyFailure(logger, err)
	}
}

func logNotifyFailure(logger *slog.Logger, err error) {
	logger.Warn("notification not delivered",
		logging.Error(err),
		logging.String(logging.FieldEventType, "notify_failed"),
		logging.String(logging.FieldImpact, "operator will not receive a push for this event"),
	)
}

func logSummary(logger *slog.Logger, summary Summary) {
	for _, result := range summary.Results {
		reason := result.Outcome
		if result.Err != nil && !errors.Is(result.Err, context.Canceled) {
			reason = result.Outcome + ": " + result.Err.Error()
		}
		logger.Info("drive summary",
			logging.Drive(result.Drive),
			logging.String("device", result.Device),
			logging.Int("discs", result.Discs),
			logging.Bool("disc_in_drive", result.DiscInDrive),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "drive_summary"),
		)
	}
	logger.Info("run finished",
		logging.Int("discs", summary.Discs()),
		logging.String("log", filepath.Base(summary.LogPath)),
		logging.String(logging.FieldEventType, "run_finished"),
	)
}
