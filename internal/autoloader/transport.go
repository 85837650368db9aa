package autoloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"autorip/internal/config"
	"autorip/internal/logging"
	"autorip/internal/retry"
	"autorip/internal/services"
)

// Transport performs one framed command/response round trip.
type Transport interface {
	Exchange(ctx context.Context, command string) (string, error)
	Close() error
}

// Port is the subset of a serial port the framer needs. go.bug.st/serial
// ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// FramerOptions tunes response reading.
type FramerOptions struct {
	// ReadTimeout is the per-read idle gap. A quiet read after at least one
	// byte ends the frame even without EOT.
	ReadTimeout time.Duration
	// ResponseTimeout bounds the wait for the first byte of a response.
	ResponseTimeout time.Duration
	// EmptyReadBackoff paces polling while nothing has arrived.
	EmptyReadBackoff retry.Config
}

// DefaultFramerOptions mirrors the reference autoloader timing.
func DefaultFramerOptions() FramerOptions {
	return FramerOptions{
		ReadTimeout:     time.Second,
		ResponseTimeout: 5 * time.Second,
		EmptyReadBackoff: retry.Config{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

// FramerOptionsFromConfig derives framer timing from the serial settings.
func FramerOptionsFromConfig(cfg *config.Config) FramerOptions {
	opts := DefaultFramerOptions()
	opts.ReadTimeout = cfg.SerialReadTimeout()
	opts.ResponseTimeout = cfg.SerialResponseTimeout()
	return opts
}

// Framer implements Transport over a byte port using ESC/EOT framing.
type Framer struct {
	port   Port
	opts   FramerOptions
	logger *slog.Logger
}

// NewFramer wraps an open port.
func NewFramer(port Port, opts FramerOptions, logger *slog.Logger) (*Framer, error) {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultFramerOptions().ReadTimeout
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultFramerOptions().ResponseTimeout
	}
	if opts.EmptyReadBackoff.InitialDelay <= 0 {
		opts.EmptyReadBackoff = DefaultFramerOptions().EmptyReadBackoff
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &Framer{
		port:   port,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "transport"),
	}, nil
}

// OpenSerial opens the robot serial device at 8N1 and wraps it in a Framer.
func OpenSerial(device string, baud int, opts FramerOptions, logger *slog.Logger) (*Framer, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, services.Wrap(services.ErrLinkDown, "transport", "open", fmt.Sprintf("serial device %s", device), err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, services.Wrap(services.ErrLinkDown, "transport", "open", "reset input buffer", err)
	}
	framer, err := NewFramer(port, opts, logger)
	if err != nil {
		port.Close()
		return nil, err
	}
	return framer, nil
}

// Exchange discards unread input, writes ESC+command, and reads one response
// frame. A late reply to an earlier timed-out command is dropped rather than
// read as this command's response.
func (f *Framer) Exchange(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := f.port.ResetInputBuffer(); err != nil {
		return "", services.Wrap(services.ErrLinkDown, "transport", "reset input", command, err)
	}
	if _, err := f.port.Write(Encode(command)); err != nil {
		return "", services.Wrap(services.ErrLinkDown, "transport", "write", command, err)
	}
	raw, err := f.readFrame(ctx)
	if err != nil {
		return "", err
	}
	response := Decode(raw)
	f.logger.Debug("frame received",
		logging.String(logging.FieldCommand, command),
		logging.String(logging.FieldResponse, response),
	)
	return response, nil
}

func (f *Framer) readFrame(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(f.opts.ResponseTimeout)
	backoff := retry.NewBackoff(f.opts.EmptyReadBackoff)
	chunk := make([]byte, 64)
	var frame []byte

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := f.port.Read(chunk)
		if err != nil {
			return nil, services.Wrap(services.ErrLinkDown, "transport", "read", "serial read failed", err)
		}
		if n > 0 {
			frame = append(frame, chunk[:n]...)
			if idx := bytes.IndexByte(frame, EOT); idx >= 0 {
				return frame[:idx+1], nil
			}
			backoff.Reset()
			continue
		}
		if len(frame) > 0 {
			return frame, nil
		}
		if !time.Now().Before(deadline) {
			return nil, services.Wrap(services.ErrTransportTimeout, "transport", "read",
				fmt.Sprintf("no response within %s", f.opts.ResponseTimeout), nil)
		}
		if err := retry.Sleep(ctx, backoff.Next()); err != nil {
			return nil, err
		}
	}
}

// Close releases the port.
func (f *Framer) Close() error {
	return f.port.Close()
}
