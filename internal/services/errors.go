package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrExternalTool      = errors.New("external tool error")
	ErrConfiguration     = errors.New("configuration error")
	ErrTimeout           = errors.New("timeout")
	ErrTransient         = errors.New("transient failure")
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrProtocolFault     = errors.New("protocol fault")
	ErrPersistentFault   = errors.New("persistent fault")
	ErrInventoryFault    = errors.New("inventory fault")
	ErrParseFault        = errors.New("parse fault")
	ErrMechanicalFailure = errors.New("mechanical action failure")
	ErrImagingFailure    = errors.New("imaging failure")
	ErrLinkDown          = errors.New("robot link down")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNoInput           = fmt.Errorf("%w: no input", ErrResourceExhausted)
	ErrNoOutputCapacity  = fmt.Errorf("%w: no output capacity", ErrResourceExhausted)
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// PersistentFaultError reports a robot fault that did not clear within the
// retry budget.
type PersistentFaultError struct {
	Command    string
	LastStatus string
	Attempts   int
	Elapsed    time.Duration
}

func (e *PersistentFaultError) Error() string {
	return fmt.Sprintf("command %q still faulted after %d attempts over %s (last status %q)",
		e.Command, e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastStatus)
}

func (e *PersistentFaultError) Unwrap() error { return ErrPersistentFault }

// ImagingFailureError reports a nonzero exit from one ddrescue phase.
type ImagingFailureError struct {
	Phase    int
	ExitCode int
	Err      error
}

func (e *ImagingFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imaging phase %d exited with code %d: %v", e.Phase, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("imaging phase %d exited with code %d", e.Phase, e.ExitCode)
}

func (e *ImagingFailureError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrImagingFailure}
	}
	return []error{ErrImagingFailure, e.Err}
}

// IsTerminal reports whether a worker should stop without treating the
// outcome as a failure.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// Outcome classifies a worker exit for status display.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "stopped"
	case errors.Is(err, ErrNoInput):
		return "no input"
	case errors.Is(err, ErrNoOutputCapacity):
		return "no output capacity"
	case errors.Is(err, ErrImagingFailure):
		return "imaging failed"
	case errors.Is(err, ErrPersistentFault):
		return "robot fault"
	case errors.Is(err, ErrLinkDown), errors.Is(err, ErrTransportTimeout):
		return "link down"
	case errors.Is(err, ErrInventoryFault):
		return "inventory fault"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "failed"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
