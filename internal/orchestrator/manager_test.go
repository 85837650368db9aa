package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"autorip/internal/autoloader"
	"autorip/internal/config"
	"autorip/internal/imaging"
	"autorip/internal/ledger"
	"autorip/internal/orchestrator"
	"autorip/internal/retry"
	"autorip/internal/services"
	"autorip/internal/testsupport"
)

const binCapacity = 5

type fakeImager struct {
	mu       sync.Mutex
	next     int
	rescueFn func(job *imaging.Job) error
	imaged   []int
}

func (f *fakeImager) Prepare(_ context.Context, drive config.Drive, output imaging.OutputFunc) (*imaging.Job, error) {
	f.mu.Lock()
	f.next++
	id := fmt.Sprintf("job-%d", f.next)
	f.mu.Unlock()
	output("Waiting for disc in " + drive.Device)
	return &imaging.Job{ID: id, Drive: drive.Index, Device: drive.Device, Label: "DISC"}, nil
}

func (f *fakeImager) Rescue(_ context.Context, job *imaging.Job, output imaging.OutputFunc) error {
	output("Step 1: Running ddrescue...")
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	f.imaged = append(f.imaged, job.Drive)
	fn := f.rescueFn
	f.mu.Unlock()
	if fn != nil {
		return fn(job)
	}
	return nil
}

type historyEntry struct {
	sourceBin int
	outputBin int
	status    ledger.JobStatus
}

type fakeHistory struct {
	mu      sync.Mutex
	entries map[string]*historyEntry
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{entries: make(map[string]*historyEntry)}
}

func (h *fakeHistory) StartJob(_ context.Context, job *imaging.Job, sourceBin int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[job.ID] = &historyEntry{sourceBin: sourceBin, status: ledger.JobImaging}
	return nil
}

func (h *fakeHistory) FinishJob(_ context.Context, job *imaging.Job, status ledger.JobStatus, _ error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[job.ID]
	if !ok {
		return errors.New("unknown job")
	}
	entry.status = status
	return nil
}

func (h *fakeHistory) SetOutputBin(_ context.Context, jobID string, bin int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.entries[jobID]
	if !ok {
		return errors.New("unknown job")
	}
	entry.outputBin = bin
	return nil
}

func (h *fakeHistory) snapshot() []historyEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]historyEntry, 0, len(h.entries))
	for _, entry := range h.entries {
		out = append(out, *entry)
	}
	return out
}

type reportLog struct {
	mu       sync.Mutex
	lines    map[int][]string
	statuses map[int][]string
}

func (r *reportLog) DriveOutput(drive int, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lines == nil {
		r.lines = make(map[int][]string)
	}
	r.lines[drive] = append(r.lines[drive], line)
}

func (r *reportLog) DriveStatus(drive int, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[int][]string)
	}
	r.statuses[drive] = append(r.statuses[drive], status)
}

type harness struct {
	cfg     *config.Config
	robot   *testsupport.Robot
	engine  *autoloader.Engine
	imager  *fakeImager
	history *fakeHistory
	reports *reportLog
	capture *testsupport.LogCapture
	manager *orchestrator.Manager
}

func newHarness(t *testing.T, drives int, counts map[int]int, bins ...config.Bin) *harness {
	t.Helper()
	if len(bins) == 0 {
		bins = []config.Bin{
			{Index: 1, Role: config.RoleInput, Capacity: binCapacity},
			{Index: 2, Role: config.RoleInput, Capacity: binCapacity},
			{Index: 3, Role: config.RoleOutput, Capacity: binCapacity},
			{Index: 4, Role: config.RoleOutput, Capacity: binCapacity},
		}
	}
	cfg := testsupport.NewConfig(t, testsupport.WithDrives(drives), testsupport.WithBins(bins...))
	cfg.Orchestrator.ScanRetries = 2

	robot := testsupport.NewRobot(cfg.Calibration, binCapacity, counts)
	capture, logger := testsupport.NewLogCapture()
	engine := autoloader.NewEngine(robot, autoloader.EngineOptions{
		MaxFaultRetries:     5,
		MaxTransportRetries: 3,
		FaultBackoff:        retry.Config{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		CommandTimeout:      5 * time.Second,
	}, logger)
	t.Cleanup(func() { engine.Close() })

	h := &harness{
		cfg:     cfg,
		robot:   robot,
		engine:  engine,
		imager:  &fakeImager{},
		history: newFakeHistory(),
		reports: &reportLog{},
		capture: capture,
	}
	manager, err := orchestrator.NewManager(cfg, orchestrator.Deps{
		Robot:    engine,
		Loader:   autoloader.NewLoader(cfg.Calibration, autoloader.LoaderDeps{Logger: logger}),
		Imager:   h.imager,
		History:  h.history,
		Reporter: h.reports,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = manager
	return h
}

func (h *harness) run(t *testing.T) []orchestrator.WorkerResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := h.manager.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return results
}

func TestWorkersDrainInputIntoOutput(t *testing.T) {
	h := newHarness(t, 2, map[int]int{1: 2, 2: 1})

	results := h.run(t)

	if len(results) != 2 {
		t.Fatalf("expected two worker results, got %d", len(results))
	}
	total := 0
	for _, result := range results {
		if !errors.Is(result.Err, services.ErrNoInput) {
			t.Fatalf("drive %d: expected no input, got %v", result.Drive, result.Err)
		}
		if result.Outcome != "no input" {
			t.Fatalf("drive %d: unexpected outcome %q", result.Drive, result.Outcome)
		}
		total += result.Discs
	}
	if total != 3 {
		t.Fatalf("unexpected disc total: got %d want 3", total)
	}
	if h.robot.Count(1) != 0 || h.robot.Count(2) != 0 {
		t.Fatalf("input bins not drained: %d %d", h.robot.Count(1), h.robot.Count(2))
	}
	if got := h.robot.Count(3) + h.robot.Count(4); got != 3 {
		t.Fatalf("unexpected output count: got %d want 3", got)
	}
	if h.robot.MaxInflight() != 1 {
		t.Fatalf("robot saw %d concurrent exchanges", h.robot.MaxInflight())
	}
	entries := h.history.snapshot()
	if len(entries) != 3 {
		t.Fatalf("unexpected history size: got %d want 3", len(entries))
	}
	for _, entry := range entries {
		if entry.status != ledger.JobSucceeded {
			t.Fatalf("unexpected job status %q", entry.status)
		}
		if entry.outputBin != 3 && entry.outputBin != 4 {
			t.Fatalf("unexpected output bin %d", entry.outputBin)
		}
		if entry.sourceBin != 1 && entry.sourceBin != 2 {
			t.Fatalf("unexpected source bin %d", entry.sourceBin)
		}
	}
}

func TestDroppedResponseDoesNotEndTheBatch(t *testing.T) {
	h := newHarness(t, 2, map[int]int{1: 4})
	h.robot.DropExchanges(20, 1)

	results := h.run(t)

	total := 0
	for _, result := range results {
		if !errors.Is(result.Err, services.ErrNoInput) {
			t.Fatalf("drive %d: expected no input, got %v", result.Drive, result.Err)
		}
		if result.DiscInDrive {
			t.Fatalf("drive %d: disc left in drive", result.Drive)
		}
		total += result.Discs
	}
	if total != 4 {
		t.Fatalf("unexpected disc total: got %d want 4", total)
	}
	if got := h.robot.Count(3) + h.robot.Count(4); got != 4 {
		t.Fatalf("unexpected output count: got %d want 4", got)
	}
	if h.robot.Loaded(0) || h.robot.Loaded(1) || h.robot.Holding() {
		t.Fatal("disc left in a drive or the gripper")
	}
	if n := h.capture.CountEvent("transport_timeout"); n != 1 {
		t.Fatalf("unexpected timeout warnings: got %d want 1", n)
	}
}

func TestWorkersProbeAnUnhealthyLinkBeforeGivingUp(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 2})
	h.robot.FailExchanges(services.Wrap(services.ErrLinkDown, "test", "exchange", "unplugged", nil))
	if _, err := h.engine.Send(context.Background(), autoloader.StatusProbe); err == nil {
		t.Fatal("expected the failed exchange to error")
	}
	h.robot.FailExchanges(nil)

	results := h.run(t)

	if !errors.Is(results[0].Err, services.ErrNoInput) || results[0].Discs != 2 {
		t.Fatalf("expected the recovered link to drain input, got discs=%d err=%v", results[0].Discs, results[0].Err)
	}
	if !h.engine.Health().Healthy {
		t.Fatal("expected link healthy after the run")
	}
}

func TestMissedPickIsRescannedInsteadOfEndingInput(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 2},
		config.Bin{Index: 1, Role: config.RoleInput, Capacity: binCapacity},
		config.Bin{Index: 3, Role: config.RoleOutput, Capacity: binCapacity},
	)
	h.robot.Override(autoloader.BinPickCommand(1), testsupport.NoDisc)

	results := h.run(t)

	if errors.Is(results[0].Err, services.ErrNoInput) {
		t.Fatal("a bin that reported discs must not end the run as empty")
	}
	if !errors.Is(results[0].Err, services.ErrInventoryFault) {
		t.Fatalf("expected inventory fault after rescans, got %v", results[0].Err)
	}
	if n := countPicks(h.robot.Commands(), autoloader.BinPickCommand(1)); n < 2 {
		t.Fatalf("expected the pick to be retried after a rescan, saw %d picks", n)
	}
	if h.capture.CountEvent("pick_missed") < 2 {
		t.Fatalf("expected missed picks to be logged, got %d", h.capture.CountEvent("pick_missed"))
	}
}

func countPicks(commands []string, pick string) int {
	n := 0
	for _, command := range commands {
		if command == pick {
			n++
		}
	}
	return n
}

func TestInputBinsAreUsedInOrder(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 1, 2: 1})

	h.run(t)

	entries := h.history.snapshot()
	bins := map[int]int{}
	for _, entry := range entries {
		bins[entry.sourceBin]++
	}
	if bins[1] != 1 || bins[2] != 1 {
		t.Fatalf("expected one disc from each input bin, got %v", bins)
	}
	commands := h.robot.Commands()
	first, second := -1, -1
	for i, command := range commands {
		if command == autoloader.BinPickCommand(1) && first < 0 {
			first = i
		}
		if command == autoloader.BinPickCommand(2) && second < 0 {
			second = i
		}
	}
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected bin 1 to be picked before bin 2, got %v", commands)
	}
}

func TestImagingFailureUnloadsAndStopsWorker(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 3})
	h.imager.rescueFn = func(*imaging.Job) error {
		return &services.ImagingFailureError{Phase: 2, ExitCode: 1}
	}

	results := h.run(t)

	result := results[0]
	if !errors.Is(result.Err, services.ErrImagingFailure) {
		t.Fatalf("expected imaging failure, got %v", result.Err)
	}
	if result.Discs != 0 {
		t.Fatalf("failed disc should not count, got %d", result.Discs)
	}
	if h.robot.Count(1) != 2 {
		t.Fatalf("expected exactly one disc taken, bin 1 holds %d", h.robot.Count(1))
	}
	if h.robot.Count(3) != 1 {
		t.Fatalf("expected failed disc in output bin 3, got %d", h.robot.Count(3))
	}
	if h.robot.Loaded(0) || h.robot.Holding() {
		t.Fatal("disc left in drive or gripper")
	}
	entries := h.history.snapshot()
	if len(entries) != 1 || entries[0].status != ledger.JobFailed || entries[0].outputBin != 3 {
		t.Fatalf("unexpected history: %+v", entries)
	}
	if h.capture.CountEvent("worker_failed") != 1 {
		t.Fatalf("expected one worker_failed event, got %d", h.capture.CountEvent("worker_failed"))
	}
}

func TestFullOutputStopsWorkerWithDiscInDrive(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 2, 3: binCapacity},
		config.Bin{Index: 1, Role: config.RoleInput, Capacity: binCapacity},
		config.Bin{Index: 3, Role: config.RoleOutput, Capacity: binCapacity},
	)

	results := h.run(t)

	result := results[0]
	if !errors.Is(result.Err, services.ErrNoOutputCapacity) {
		t.Fatalf("expected no output capacity, got %v", result.Err)
	}
	if result.Discs != 0 {
		t.Fatalf("a disc still in the drive should not count: got %d", result.Discs)
	}
	if !result.DiscInDrive || !h.robot.Loaded(0) {
		t.Fatalf("expected the imaged disc to stay in the drive, DiscInDrive=%v", result.DiscInDrive)
	}
	entries := h.history.snapshot()
	if len(entries) != 1 || entries[0].status != ledger.JobSucceeded {
		t.Fatalf("the image itself should be recorded as succeeded: %+v", entries)
	}
	if h.robot.Count(1) != 1 {
		t.Fatalf("expected one disc left in input, got %d", h.robot.Count(1))
	}
}

func TestUnreadableBinIsRescanned(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 1})
	// One probe plus the re-probe after recalibration.
	h.robot.FailProbes(1, 2)

	results := h.run(t)

	if !errors.Is(results[0].Err, services.ErrNoInput) {
		t.Fatalf("expected worker to drain input, got %v", results[0].Err)
	}
	if results[0].Discs != 1 {
		t.Fatalf("unexpected disc count: got %d want 1", results[0].Discs)
	}
	if h.capture.CountEvent("inventory_rescan") != 1 {
		t.Fatalf("expected one rescan warning, got %d", h.capture.CountEvent("inventory_rescan"))
	}
}

func TestUnreadableBinsGiveUpAfterRetries(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 1})
	h.robot.FailProbes(1, 100)

	results := h.run(t)

	if !errors.Is(results[0].Err, services.ErrInventoryFault) {
		t.Fatalf("expected inventory fault, got %v", results[0].Err)
	}
	if h.capture.CountEvent("inventory_rescan") != h.cfg.Orchestrator.ScanRetries {
		t.Fatalf("unexpected rescan count: got %d want %d",
			h.capture.CountEvent("inventory_rescan"), h.cfg.Orchestrator.ScanRetries)
	}
}

func TestLinkDownStopsWorkersAndBlocksStart(t *testing.T) {
	h := newHarness(t, 2, map[int]int{1: 4})
	h.robot.FailExchanges(errors.New("serial unplugged"))

	results := h.run(t)

	for _, result := range results {
		if result.Err == nil {
			t.Fatalf("drive %d: expected an error", result.Drive)
		}
	}
	if h.engine.Health().Healthy {
		t.Fatal("expected link to be marked down")
	}
	err := h.manager.Start(context.Background())
	if !errors.Is(err, services.ErrLinkDown) {
		t.Fatalf("expected link down on start, got %v", err)
	}
}

func TestStopCancelsWorkers(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 5})
	started := make(chan struct{})
	var once sync.Once
	release := make(chan struct{})
	h.imager.rescueFn = func(*imaging.Job) error {
		once.Do(func() { close(started) })
		<-release
		return context.Canceled
	}

	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(release)
	}()
	h.manager.Stop()
	results := h.manager.Wait()

	if results[0].Err != nil {
		t.Fatalf("expected clean stop, got %v", results[0].Err)
	}
	if results[0].Outcome != "stopped" {
		t.Fatalf("unexpected outcome %q", results[0].Outcome)
	}
}

func TestReporterReceivesDriveOutput(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 1})

	h.run(t)

	h.reports.mu.Lock()
	defer h.reports.mu.Unlock()
	lines := h.reports.lines[1]
	want := []string{"Disc loaded from bin 1", "Waiting for disc in /dev/sr3", "Step 1: Running ddrescue...", "Disc placed in bin 3"}
	if len(lines) != len(want) {
		t.Fatalf("unexpected drive output: %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("unexpected line %d: got %q want %q", i, lines[i], want[i])
		}
	}
	statuses := h.reports.statuses[1]
	if statuses[len(statuses)-1] != "no input" {
		t.Fatalf("unexpected final status %q", statuses[len(statuses)-1])
	}
}

func TestLoadTestFillsThenEmptiesDrives(t *testing.T) {
	h := newHarness(t, 2, map[int]int{1: 4})

	if err := h.manager.LoadTest(context.Background()); err != nil {
		t.Fatalf("LoadTest: %v", err)
	}

	if h.robot.Count(1) != 2 {
		t.Fatalf("unexpected input count: got %d want 2", h.robot.Count(1))
	}
	if h.robot.Count(3) != 2 {
		t.Fatalf("unexpected output count: got %d want 2", h.robot.Count(3))
	}
	if h.robot.Loaded(0) || h.robot.Loaded(1) {
		t.Fatal("drives should be empty after load test")
	}
	commands := h.robot.Commands()
	first, second := -1, -1
	for i, command := range commands {
		if command == autoloader.DrivePickCommand(1) && first < 0 {
			first = i
		}
		if command == autoloader.DrivePickCommand(0) && second < 0 {
			second = i
		}
	}
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected drive 2 unloaded before drive 1, got %v", commands)
	}
}

func TestInventoryReadsEveryBin(t *testing.T) {
	h := newHarness(t, 1, map[int]int{1: 3, 3: 1})

	readings, err := h.manager.Inventory(context.Background())
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	want := map[int]int{1: 3, 2: 0, 3: 1, 4: 0}
	if len(readings) != len(want) {
		t.Fatalf("unexpected reading count %d", len(readings))
	}
	for _, reading := range readings {
		if !reading.Known || reading.Count != want[reading.Bin.Index] {
			t.Fatalf("bin %d: unexpected reading %+v", reading.Bin.Index, reading)
		}
	}
}
