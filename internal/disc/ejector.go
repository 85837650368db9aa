package disc

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// TrayController opens and closes drive trays with the eject utility.
type TrayController struct {
	runner Runner
}

// NewTrayController creates a controller. A nil runner shells out directly.
func NewTrayController(runner Runner) *TrayController {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &TrayController{runner: runner}
}

// Open ejects the tray of device.
func (t *TrayController) Open(ctx context.Context, device string) error {
	return t.eject(ctx, device)
}

// Close retracts the tray of device.
func (t *TrayController) Close(ctx context.Context, device string) error {
	return t.eject(ctx, device, "-t")
}

func (t *TrayController) eject(ctx context.Context, device string, flags ...string) error {
	device = strings.TrimSpace(device)
	if device == "" {
		return fmt.Errorf("eject: no device specified")
	}
	args := append(append([]string(nil), flags...), device)
	output, err := t.runner.Run(ctx, "eject", args...)
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Errorf("eject %s: %w: %s", strings.Join(args, " "), err, detail)
		}
		return fmt.Errorf("eject %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
