package disc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Prober inspects inserted media with blkid and blockdev.
type Prober struct {
	runner Runner
}

// NewProber creates a prober. A nil runner shells out directly.
func NewProber(runner Runner) *Prober {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Prober{runner: runner}
}

// HasMedia reports whether blkid recognizes a filesystem on device.
func (p *Prober) HasMedia(ctx context.Context, device string) bool {
	_, err := p.runner.Run(ctx, "blkid", device)
	return err == nil
}

// Label returns the filesystem label, or "" when the disc has none.
func (p *Prober) Label(ctx context.Context, device string) (string, error) {
	output, err := p.runner.Run(ctx, "blkid", "-o", "value", "-s", "LABEL", device)
	if err != nil {
		// blkid exits 2 when the tag is absent.
		return "", nil
	}
	return firstLine(string(output)), nil
}

// BlockSize returns the logical block size reported by blockdev.
func (p *Prober) BlockSize(ctx context.Context, device string) (int, error) {
	output, err := p.runner.Run(ctx, "blockdev", "--getbsz", device)
	if err != nil {
		return 0, fmt.Errorf("blockdev --getbsz %s: %w", device, err)
	}
	value := firstLine(string(output))
	size, err := strconv.Atoi(value)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("blockdev --getbsz %s: unexpected output %q", device, value)
	}
	return size, nil
}

func firstLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
