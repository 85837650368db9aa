package imaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autorip/internal/config"
	"autorip/internal/logging"
	"autorip/internal/metrics"
	"autorip/internal/retry"
	"autorip/internal/services"
)

// PhaseCount is the number of ddrescue passes per disc.
const PhaseCount = 3

// Job is one disc being imaged.
type Job struct {
	ID             string
	Drive          int
	Device         string
	DestinationDir string
	Label          string
	BlockSize      int
	ISOPath        string
	MapPath        string
	Phase          int
	StartedAt      time.Time
}

// OutputFunc receives user-facing progress lines for a drive.
type OutputFunc func(line string)

// MediaProber inspects the disc in a drive.
type MediaProber interface {
	HasMedia(ctx context.Context, device string) bool
	Label(ctx context.Context, device string) (string, error)
	BlockSize(ctx context.Context, device string) (int, error)
}

// MediaWaker wakes a media wait early when the kernel reports a change.
type MediaWaker interface {
	Subscribe(device string) (<-chan struct{}, func())
}

// Options tunes the pipeline.
type Options struct {
	DestinationDir    string
	DDRescueBinary    string
	RetryPasses       int
	BannerLines       int
	MediaWaitAttempts int
	MediaWaitInterval time.Duration
}

// OptionsFromConfig derives pipeline options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DestinationDir:    cfg.Imaging.DestinationDir,
		DDRescueBinary:    cfg.DDRescueBinary(),
		RetryPasses:       cfg.Imaging.RetryPasses,
		BannerLines:       cfg.Imaging.BannerLines,
		MediaWaitAttempts: cfg.Imaging.MediaWaitAttempts,
		MediaWaitInterval: time.Duration(cfg.Imaging.MediaWaitIntervalMS) * time.Millisecond,
	}
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(p *Pipeline) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// WithWaker lets udev events cut media waits short.
func WithWaker(waker MediaWaker) Option {
	return func(p *Pipeline) {
		p.waker = waker
	}
}

// WithMetrics records phase durations.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(p *Pipeline) {
		p.metrics = rec
	}
}

// Pipeline images discs with three ddrescue passes.
type Pipeline struct {
	opts    Options
	prober  MediaProber
	exec    Executor
	waker   MediaWaker
	metrics *metrics.Recorder
	logger  *slog.Logger

	// nameMu serializes output name selection across drives.
	nameMu sync.Mutex
}

// New constructs a pipeline.
func New(opts Options, prober MediaProber, logger *slog.Logger, options ...Option) (*Pipeline, error) {
	if strings.TrimSpace(opts.DestinationDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "imaging", "init", "destination directory required", nil)
	}
	if prober == nil {
		return nil, errors.New("media prober required")
	}
	if opts.DDRescueBinary == "" {
		opts.DDRescueBinary = "ddrescue"
	}
	if opts.MediaWaitAttempts <= 0 {
		opts.MediaWaitAttempts = 10
	}
	if opts.MediaWaitInterval <= 0 {
		opts.MediaWaitInterval = time.Second
	}
	if opts.BannerLines < 0 {
		opts.BannerLines = 0
	}
	p := &Pipeline{
		opts:   opts,
		prober: prober,
		exec:   commandExecutor{},
		logger: logging.NewComponentLogger(logger, "imaging"),
	}
	for _, option := range options {
		option(p)
	}
	return p, nil
}

// Image prepares and rescues the disc in drive.
func (p *Pipeline) Image(ctx context.Context, drive config.Drive, output OutputFunc) (*Job, error) {
	job, err := p.Prepare(ctx, drive, output)
	if err != nil {
		return job, err
	}
	return job, p.Rescue(ctx, job, output)
}

// Prepare waits for media, reads the label and block size, and picks the
// output paths. The returned job is nil only when no disc appeared.
func (p *Pipeline) Prepare(ctx context.Context, drive config.Drive, output OutputFunc) (*Job, error) {
	output = orDiscard(output)
	job := &Job{
		ID:             uuid.NewString(),
		Drive:          drive.Index,
		Device:         drive.Device,
		DestinationDir: p.opts.DestinationDir,
		StartedAt:      time.Now().UTC(),
	}
	ctx = services.WithJobID(services.WithDrive(ctx, drive.Index), job.ID)
	logger := logging.WithContext(ctx, p.logger)

	output(fmt.Sprintf("Waiting for disc in %s...", drive.Device))
	label, blockSize, err := p.waitForMedia(ctx, drive)
	if err != nil {
		return nil, err
	}
	job.Label = SanitizeLabel(label)
	if job.Label == "" {
		job.Label = FallbackLabel(drive.Index)
	}
	job.BlockSize = blockSize

	dir := filepath.Join(p.opts.DestinationDir, RippingDir)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return job, services.Wrap(services.ErrConfiguration, "imaging", "prepare", "create ripping directory", err)
	}
	_ = os.Chmod(dir, 0o777)

	base, err := p.reserveBase(dir, job.Label)
	if err != nil {
		return job, services.Wrap(services.ErrImagingFailure, "imaging", "prepare", "choose output name", err)
	}
	job.ISOPath = filepath.Join(dir, base+".iso")
	job.MapPath = filepath.Join(dir, base+"_rescue.log")

	logger.Info("disc ready",
		logging.String("label", job.Label),
		logging.Int("block_size", job.BlockSize),
		logging.String("iso_path", job.ISOPath),
		logging.String(logging.FieldEventType, "disc_ready"),
	)
	output(fmt.Sprintf("Disc label: %s, block size: %d", job.Label, job.BlockSize))
	return job, nil
}

// reserveBase picks an unused name and creates an empty image file so a
// concurrent drive with the same label cannot claim it.
func (p *Pipeline) reserveBase(dir, label string) (string, error) {
	p.nameMu.Lock()
	defer p.nameMu.Unlock()
	base, err := UniqueBase(dir, label)
	if err != nil {
		return "", err
	}
	file, err := os.OpenFile(filepath.Join(dir, base+".iso"), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666)
	if err != nil {
		return "", err
	}
	return base, file.Close()
}

// Rescue runs the three ddrescue phases. A phase that exits non-zero stops
// the job with an ImagingFailureError; later phases never start.
func (p *Pipeline) Rescue(ctx context.Context, job *Job, output OutputFunc) error {
	output = orDiscard(output)
	ctx = services.WithJobID(services.WithDrive(ctx, job.Drive), job.ID)
	logger := logging.WithContext(ctx, p.logger)

	for phase := 1; phase <= PhaseCount; phase++ {
		job.Phase = phase
		output(fmt.Sprintf("Step %d: Running ddrescue...", phase))
		logger.Info("ddrescue phase started",
			logging.Int(logging.FieldPhase, phase),
			logging.String(logging.FieldEventType, "phase_started"),
		)

		args := p.phaseArgs(phase, job)
		progress := newProgressGate(progressStep)
		lines := 0
		started := time.Now()
		err := p.exec.Run(ctx, p.opts.DDRescueBinary, args, func(line string) {
			lines++
			if lines <= p.opts.BannerLines {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				return
			}
			output(line)
			if percent, ok := ParseRescuedPercent(line); ok && progress.pass(percent) {
				logger.Info("ddrescue progress",
					logging.Int(logging.FieldPhase, phase),
					logging.Float64("percent", percent),
				)
			}
		})
		elapsed := time.Since(started)
		p.metrics.PhaseFinished(phase, elapsed)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			failure := &services.ImagingFailureError{Phase: phase, ExitCode: ExitCode(err), Err: err}
			logging.ErrorWithContext(logger, "ddrescue phase failed", "phase_failed",
				logging.Int(logging.FieldPhase, phase),
				logging.Int("exit_code", failure.ExitCode),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the mapfile; the disc may be damaged"),
			)
			output(fmt.Sprintf("Step %d failed: %v", phase, err))
			return failure
		}
		logger.Info("ddrescue phase finished",
			logging.Int(logging.FieldPhase, phase),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "phase_finished"),
		)
	}

	output(fmt.Sprintf("Disc '%s' rescued to %s", job.Label, job.ISOPath))
	logger.Info("disc rescued",
		logging.String("iso_path", job.ISOPath),
		logging.Duration("elapsed", time.Since(job.StartedAt)),
		logging.String(logging.FieldEventType, "disc_rescued"),
	)
	return nil
}

// phaseArgs builds the ddrescue arguments: a fast pass without scraping,
// then direct-access retries, then reverse direct-access retries.
func (p *Pipeline) phaseArgs(phase int, job *Job) []string {
	bs := strconv.Itoa(job.BlockSize)
	retries := strconv.Itoa(p.opts.RetryPasses)
	var args []string
	switch phase {
	case 1:
		args = []string{"-b", bs, "-n", "-v"}
	case 2:
		args = []string{"-b", bs, "-d", "-r", retries, "-v"}
	default:
		args = []string{"-b", bs, "-d", "-R", "-r", retries, "-v"}
	}
	return append(args, job.Device, job.ISOPath, job.MapPath)
}

// waitForMedia polls blkid until the disc is readable. A udev wake-up
// short-circuits the interval between attempts.
func (p *Pipeline) waitForMedia(ctx context.Context, drive config.Drive) (string, int, error) {
	var wake <-chan struct{}
	if p.waker != nil {
		ch, release := p.waker.Subscribe(drive.Device)
		defer release()
		wake = ch
	}
	logger := logging.WithContext(ctx, p.logger)

	for attempt := 1; attempt <= p.opts.MediaWaitAttempts; attempt++ {
		if p.prober.HasMedia(ctx, drive.Device) {
			label, _ := p.prober.Label(ctx, drive.Device)
			blockSize, err := p.prober.BlockSize(ctx, drive.Device)
			if err == nil {
				return label, blockSize, nil
			}
			logger.Debug("block size not available yet", logging.Int("attempt", attempt), logging.Error(err))
		}
		if attempt == p.opts.MediaWaitAttempts {
			break
		}
		if wake == nil {
			if err := retry.Sleep(ctx, p.opts.MediaWaitInterval); err != nil {
				return "", 0, err
			}
			continue
		}
		timer := time.NewTimer(p.opts.MediaWaitInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", 0, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
	return "", 0, services.Wrap(services.ErrTimeout, "imaging", "wait for media",
		fmt.Sprintf("no readable disc in %s after %d attempts", drive.Device, p.opts.MediaWaitAttempts), nil)
}

func orDiscard(output OutputFunc) OutputFunc {
	if output == nil {
		return func(string) {}
	}
	return output
}
