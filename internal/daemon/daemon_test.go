package daemon_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"autorip/internal/daemon"
	"autorip/internal/ledger"
	"autorip/internal/logging"
	"autorip/internal/services"
	"autorip/internal/testsupport"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	r.mu.Unlock()
	switch name {
	case "blockdev":
		return []byte("2048\n"), nil
	case "blkid":
		if len(args) > 1 {
			return []byte("MOVIE\n"), nil
		}
		return []byte("/dev/sr3: TYPE=\"udf\"\n"), nil
	}
	return nil, nil
}

func (r *fakeRunner) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, call := range r.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

type isoExecutor struct{}

func (isoExecutor) Run(_ context.Context, _ string, args []string, onStdout func(string)) error {
	onStdout("pct rescued: 100.00%")
	// ddrescue arguments end with device, image, map.
	return os.WriteFile(args[len(args)-2], []byte("iso"), 0o644)
}

type failingExecutor struct{}

func (failingExecutor) Run(context.Context, string, []string, func(string)) error {
	return errors.New("ddrescue exited with status 1")
}

type recordingNotifier struct {
	mu        sync.Mutex
	started   int
	completed []int
	stopped   []int
}

func (n *recordingNotifier) NotifyRunStarted(context.Context, int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
	return nil
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, discs, failed int, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, discs, failed)
	return nil
}

func (n *recordingNotifier) NotifyDriveStopped(_ context.Context, drive int, _ string, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = append(n.stopped, drive)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

func testOptions(robot *testsupport.Robot, runner *fakeRunner) daemon.Options {
	return daemon.Options{Transport: robot, Runner: runner, Executor: isoExecutor{}}
}

func TestOpenRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDrives(1))
	robot := testsupport.NewRobot(cfg.Calibration, 108, nil)

	first, err := daemon.Open(context.Background(), cfg, "run-1", logging.NewNop(), testOptions(robot, &fakeRunner{}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = daemon.Open(context.Background(), cfg, "run-2", logging.NewNop(), testOptions(robot, &fakeRunner{}))
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !robot.Closed() {
		t.Fatal("expected the robot link to be closed")
	}
	again, err := daemon.Open(context.Background(), cfg, "run-3", logging.NewNop(), testOptions(testsupport.NewRobot(cfg.Calibration, 108, nil), &fakeRunner{}))
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	again.Close()
}

func TestRunImagesEveryInputDisc(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDrives(2))
	robot := testsupport.NewRobot(cfg.Calibration, 108, map[int]int{1: 2, 2: 1})
	runner := &fakeRunner{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	notifier := &recordingNotifier{}
	opts := testOptions(robot, runner)
	opts.Notifier = notifier
	summary, err := daemon.Run(ctx, cfg, daemon.RunOptions{Options: opts})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if notifier.started != 1 || len(notifier.completed) != 2 || notifier.completed[0] != 3 || notifier.completed[1] != 0 {
		t.Fatalf("unexpected run notifications: started=%d completed=%v", notifier.started, notifier.completed)
	}
	if len(notifier.stopped) != 0 {
		t.Fatalf("unexpected drive stop notifications: %v", notifier.stopped)
	}

	if summary.Discs() != 3 {
		t.Fatalf("unexpected disc count: got %d want 3", summary.Discs())
	}
	if summary.Failed() {
		t.Fatalf("unexpected failure in %+v", summary.Results)
	}
	for _, result := range summary.Results {
		if !errors.Is(result.Err, services.ErrNoInput) {
			t.Fatalf("drive %d: expected no input, got %v", result.Drive, result.Err)
		}
	}
	if robot.Count(3) != 3 {
		t.Fatalf("unexpected output bin count: got %d want 3", robot.Count(3))
	}
	if _, err := os.Stat(summary.LogPath); err != nil {
		t.Fatalf("expected run log file: %v", err)
	}
	// Each disc is opened and closed on load and again on unload.
	if got := runner.count("eject -t"); got != 6 {
		t.Fatalf("unexpected tray close count: got %d want 6", got)
	}

	store, err := ledger.Open(cfg, "verify")
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()
	jobs, err := store.RecentJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("unexpected job count: got %d want 3", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != ledger.JobSucceeded || job.RunID != summary.RunID || job.Label != "MOVIE" {
			t.Fatalf("unexpected job record %+v", job)
		}
		if job.OutputBin != 3 {
			t.Fatalf("unexpected output bin %d", job.OutputBin)
		}
	}
	samples, err := store.Samples(context.Background())
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) == 0 {
		t.Fatal("expected bin samples in the ledger")
	}
}

func TestRunReportsStartupFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDrives(1))
	cfg.Imaging.DestinationDir = ""
	robot := testsupport.NewRobot(cfg.Calibration, 108, map[int]int{1: 1})

	_, err := daemon.Run(context.Background(), cfg, daemon.RunOptions{Options: testOptions(robot, &fakeRunner{})})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if robot.Count(1) != 1 {
		t.Fatal("robot should not move when startup fails")
	}
}


func TestRunNotifiesWhenDriveStopsOnError(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDrives(1))
	robot := testsupport.NewRobot(cfg.Calibration, 108, map[int]int{1: 2})
	notifier := &recordingNotifier{}
	opts := testOptions(robot, &fakeRunner{})
	opts.Executor = failingExecutor{}
	opts.Notifier = notifier

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	summary, err := daemon.Run(ctx, cfg, daemon.RunOptions{Options: opts})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Failed() {
		t.Fatalf("expected a failed drive in %+v", summary.Results)
	}
	// The failed disc is still returned to an output bin.
	if robot.Count(3) != 1 || robot.Count(1) != 1 {
		t.Fatalf("unexpected bin counts: input=%d output=%d", robot.Count(1), robot.Count(3))
	}
	if len(notifier.stopped) != 1 || notifier.stopped[0] != 1 {
		t.Fatalf("unexpected drive stop notifications: %v", notifier.stopped)
	}
	if len(notifier.completed) != 2 || notifier.completed[0] != 0 || notifier.completed[1] != 1 {
		t.Fatalf("unexpected completion notification: %v", notifier.completed)
	}
}
