package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autorip/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckSerialDeviceRejectsRegularFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "ttyUSB0")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckSerialDevice(f)
	if result.Passed || !strings.Contains(result.Detail, "not a character device") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckSerialDeviceMissing(t *testing.T) {
	result := CheckSerialDevice(filepath.Join(t.TempDir(), "missing"))
	if result.Passed {
		t.Fatal("expected failure for missing device")
	}
	if result := CheckSerialDevice(""); result.Detail != "not configured" {
		t.Fatalf("unexpected detail for blank port: %q", result.Detail)
	}
}

func TestCheckDriveDeviceMissing(t *testing.T) {
	result := CheckDriveDevice(config.Drive{Index: 2, Device: filepath.Join(t.TempDir(), "sr9")})
	if result.Passed {
		t.Fatal("expected failure for missing drive")
	}
	if result.Name != "Drive 2" {
		t.Fatalf("unexpected name %q", result.Name)
	}
}

func TestRunAllReportsEveryComponent(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Serial.Port = filepath.Join(base, "tty")
	cfg.Imaging.DestinationDir = base
	cfg.Paths.StateDir = base
	cfg.Paths.LogDir = base
	cfg.Drives = []config.Drive{{Index: 1, Device: filepath.Join(base, "sr0")}}
	t.Setenv("PATH", "")

	results := RunAll(context.Background(), &cfg)

	// serial + one drive + three directories + four tools
	if len(results) != 9 {
		t.Fatalf("unexpected result count: got %d want 9", len(results))
	}
	failed := Failed(results)
	names := make([]string, 0, len(failed))
	for _, result := range failed {
		names = append(names, result.Name)
	}
	want := "Serial port,Drive 1,ddrescue,eject,blkid,blockdev"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("unexpected failures: got %q want %q", got, want)
	}
}

func TestCheckToolResolvesFromPath(t *testing.T) {
	binDir := t.TempDir()
	script := []byte("#!/bin/sh\nexit 0\n")
	for _, name := range []string{"ddrescue", "eject", "blkid"} {
		if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
			t.Fatalf("write %s stub: %v", name, err)
		}
	}
	t.Setenv("PATH", binDir)

	var missing []string
	for _, tool := range ImagingTools("ddrescue") {
		result := CheckTool(tool)
		if !result.Passed {
			missing = append(missing, result.Name)
			continue
		}
		if result.Detail != filepath.Join(binDir, tool.Command) {
			t.Fatalf("unexpected resolved path for %s: %q", tool.Name, result.Detail)
		}
	}
	if len(missing) != 1 || missing[0] != "blockdev" {
		t.Fatalf("expected only blockdev missing, got %v", missing)
	}
}

func TestCheckToolBlankCommand(t *testing.T) {
	result := CheckTool(Tool{Name: "ddrescue", Command: "  "})
	if result.Passed || result.Detail != "command not configured" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
