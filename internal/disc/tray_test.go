package disc

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDriveStatusString(t *testing.T) {
	tests := []struct {
		status DriveStatus
		want   string
		tray   TrayState
	}{
		{DriveStatusNoInfo, "no_info", TrayUnknown},
		{DriveStatusNoDisc, "no_disc", TrayClosed},
		{DriveStatusTrayOpen, "tray_open", TrayOpen},
		{DriveStatusNotReady, "not_ready", TrayClosed},
		{DriveStatusDiscOK, "disc_ok", TrayClosed},
		{DriveStatus(99), "unknown(99)", TrayUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("DriveStatus(%d).String() = %q, want %q", int(tt.status), got, tt.want)
			}
			if got := tt.status.Tray(); got != tt.tray {
				t.Errorf("DriveStatus(%d).Tray() = %v, want %v", int(tt.status), got, tt.tray)
			}
		})
	}
}

func TestCheckDriveStatusEmptyPath(t *testing.T) {
	if _, err := CheckDriveStatus(""); err == nil {
		t.Fatal("expected error for empty device path")
	}
}

func TestCheckTrayInvalidPath(t *testing.T) {
	state, err := CheckTray("/dev/nonexistent_device_12345")
	if err == nil {
		t.Fatal("expected error for nonexistent device")
	}
	if state != TrayUnknown {
		t.Fatalf("unexpected state: %v", state)
	}
}

type recordedRun struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []recordedRun
	outputs map[string]string
	fail    map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, recordedRun{name: name, args: args})
	key := name + " " + strings.Join(args, " ")
	if f.fail[key] {
		return []byte("boom"), errors.New("exit status 1")
	}
	return []byte(f.outputs[key]), nil
}

func TestTrayControllerInvokesEject(t *testing.T) {
	runner := &fakeRunner{}
	trays := NewTrayController(runner)

	if err := trays.Open(context.Background(), "/dev/sr0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := trays.Close(context.Background(), "/dev/sr0"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected two eject calls, got %d", len(runner.calls))
	}
	if got := strings.Join(runner.calls[0].args, " "); got != "/dev/sr0" {
		t.Fatalf("unexpected open args: %q", got)
	}
	if got := strings.Join(runner.calls[1].args, " "); got != "-t /dev/sr0" {
		t.Fatalf("unexpected close args: %q", got)
	}
}

func TestTrayControllerReportsFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"eject -t /dev/sr1": true}}
	trays := NewTrayController(runner)
	err := trays.Close(context.Background(), "/dev/sr1")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected failure with output, got %v", err)
	}
	if err := trays.Open(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank device")
	}
}

func TestProber(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{
			"blkid -o value -s LABEL /dev/sr0": "MY_DISC\n",
			"blockdev --getbsz /dev/sr0":       "2048\n",
			"blockdev --getbsz /dev/sr1":       "garbage\n",
		},
		fail: map[string]bool{
			"blkid /dev/sr1":                   true,
			"blkid -o value -s LABEL /dev/sr1": true,
		},
	}
	prober := NewProber(runner)
	ctx := context.Background()

	if !prober.HasMedia(ctx, "/dev/sr0") || prober.HasMedia(ctx, "/dev/sr1") {
		t.Fatal("unexpected media detection")
	}
	if label, err := prober.Label(ctx, "/dev/sr0"); err != nil || label != "MY_DISC" {
		t.Fatalf("unexpected label: %q %v", label, err)
	}
	if label, err := prober.Label(ctx, "/dev/sr1"); err != nil || label != "" {
		t.Fatalf("expected empty label for unlabeled disc, got %q %v", label, err)
	}
	if size, err := prober.BlockSize(ctx, "/dev/sr0"); err != nil || size != 2048 {
		t.Fatalf("unexpected block size: %d %v", size, err)
	}
	if _, err := prober.BlockSize(ctx, "/dev/sr1"); err == nil {
		t.Fatal("expected error for unparsable block size")
	}
}
