package autoloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autorip/internal/config"
	"autorip/internal/logging"
	"autorip/internal/metrics"
	"autorip/internal/retry"
	"autorip/internal/services"
)

// ErrEngineClosed is returned by Do after Close.
var ErrEngineClosed = errors.New("autoloader engine closed")

// EngineOptions tunes fault recovery.
type EngineOptions struct {
	MaxFaultRetries int
	// MaxTransportRetries is how many times an exchange that timed out is
	// resent before the timeout is returned.
	MaxTransportRetries int
	FaultBackoff        retry.Config
	CommandTimeout      time.Duration
	Metrics             *metrics.Recorder
}

// Health describes the serial link as last observed.
type Health struct {
	Healthy   bool
	LastError string
	Since     time.Time
}

// Engine owns the robot transport. All robot I/O runs on one goroutine, one
// transaction at a time, so no two command/status exchanges ever interleave.
type Engine struct {
	transport Transport
	opts      EngineOptions
	logger    *slog.Logger

	requests chan request
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	healthMu sync.RWMutex
	health   Health
}

type request struct {
	ctx    context.Context
	fn     func(*Session) error
	result chan error
}

// NewEngine starts the owner goroutine for transport.
func NewEngine(transport Transport, opts EngineOptions, logger *slog.Logger) *Engine {
	if opts.MaxFaultRetries <= 0 {
		opts.MaxFaultRetries = 30
	}
	if opts.MaxTransportRetries < 0 {
		opts.MaxTransportRetries = 0
	}
	if opts.FaultBackoff.InitialDelay <= 0 {
		opts.FaultBackoff = retry.Config{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
			AddJitter:    true,
		}
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Minute
	}
	e := &Engine{
		transport: transport,
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "robot"),
		requests:  make(chan request),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		health:    Health{Healthy: true, Since: time.Now()},
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.quit:
			return
		case req := <-e.requests:
			if err := req.ctx.Err(); err != nil {
				req.result <- err
				continue
			}
			req.result <- e.runTransaction(req.fn)
		}
	}
}

// runTransaction keeps the owner goroutine alive when fn panics.
func (e *Engine) runTransaction(fn func(*Session) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(e.logger, "robot transaction panicked", "transaction_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldErrorHint, "report this with the run log"),
			)
			err = fmt.Errorf("robot transaction panicked: %v", r)
		}
	}()
	return fn(&Session{engine: e})
}

// Do runs fn with exclusive use of the robot. Every command fn sends through
// the session completes before any other caller's transaction starts.
func (e *Engine) Do(ctx context.Context, fn func(*Session) error) error {
	req := request{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case e.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrEngineClosed
	}
	return <-req.result
}

// Send runs a single command as its own transaction.
func (e *Engine) Send(ctx context.Context, command string) (string, error) {
	var response string
	err := e.Do(ctx, func(s *Session) error {
		var err error
		response, err = s.Send(ctx, command)
		return err
	})
	return response, err
}

// Ping sends one status probe as its own transaction. It is how a link
// marked unhealthy gets a chance to recover; faults reported by the probe
// do not fail it.
func (e *Engine) Ping(ctx context.Context) error {
	return e.Do(ctx, func(*Session) error {
		_, err := e.exchange(ctx, StatusProbe)
		return err
	})
}

// Health returns the current link state.
func (e *Engine) Health() Health {
	e.healthMu.RLock()
	defer e.healthMu.RUnlock()
	return e.health
}

func (e *Engine) markHealth(err error) {
	e.opts.Metrics.Exchange(err == nil)
	e.healthMu.Lock()
	was := e.health.Healthy
	switch {
	case err == nil && !was:
		e.health = Health{Healthy: true, Since: time.Now()}
	case err != nil && was:
		e.health = Health{Healthy: false, LastError: err.Error(), Since: time.Now()}
	case err != nil:
		e.health.LastError = err.Error()
	}
	e.healthMu.Unlock()

	if err == nil && !was {
		e.logger.Info("robot link restored", logging.String(logging.FieldEventType, "link_restored"))
	} else if err != nil && was {
		logging.ErrorWithContext(e.logger, "robot link lost", "link_lost",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the serial cable and that the autoloader is powered"),
		)
	}
}

// exchange performs one round trip, resending after a response timeout up to
// MaxTransportRetries times. Only the final outcome updates link health.
func (e *Engine) exchange(ctx context.Context, command string) (string, error) {
	var backoff *retry.Backoff
	for attempt := 0; ; attempt++ {
		response, err := e.transport.Exchange(ctx, command)
		if err != nil && ctx.Err() != nil {
			// Cancellation says nothing about the link.
			return "", err
		}
		if err == nil || !errors.Is(err, services.ErrTransportTimeout) || attempt >= e.opts.MaxTransportRetries {
			e.markHealth(err)
			return response, err
		}
		e.opts.Metrics.Exchange(false)
		logging.WarnWithContext(e.logger, "robot response timed out; resending", "transport_timeout",
			logging.String(logging.FieldCommand, command),
			logging.Int("attempt", attempt+1),
			logging.Error(err),
			logging.String(logging.FieldImpact, "command delayed"),
		)
		if backoff == nil {
			backoff = retry.NewBackoff(e.opts.FaultBackoff)
		}
		if err := retry.Sleep(ctx, backoff.Next()); err != nil {
			return "", err
		}
	}
}

// Close stops the owner goroutine after the running transaction and closes
// the transport.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		close(e.quit)
		<-e.stopped
		err = e.transport.Close()
	})
	return err
}

// OptionsFromConfig derives engine tuning from configuration.
func OptionsFromConfig(cfg *config.Config, rec *metrics.Recorder) EngineOptions {
	return EngineOptions{
		MaxFaultRetries:     cfg.Robot.MaxFaultRetries,
		MaxTransportRetries: cfg.Robot.MaxTransportRetries,
		FaultBackoff: retry.Config{
			InitialDelay: time.Duration(cfg.Robot.FaultBackoffInitialMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Robot.FaultBackoffMaxMS) * time.Millisecond,
			Multiplier:   2,
			AddJitter:    true,
		},
		CommandTimeout: cfg.CommandTimeout(),
		Metrics:        rec,
	}
}
