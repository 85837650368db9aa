package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"autorip/internal/config"
	"autorip/internal/logging"
	"autorip/internal/metrics"
)

const (
	defaultLogLines   = 200
	defaultDriveLines = 200
	eventBuffer       = 256
)

// Event is one line shown on the dashboard. Drive is zero for the global
// log.
type Event struct {
	Timestamp time.Time
	Drive     int
	Level     slog.Level
	Text      string
}

// DriveView is the render state for one drive section.
type DriveView struct {
	Index  int
	Device string
	Status string
	Lines  []string
}

// Snapshot is an immutable copy of the aggregator state.
type Snapshot struct {
	Logs    []Event
	Drives  []DriveView
	Dropped int64
}

type itemKind int

const (
	itemLog itemKind = iota
	itemOutput
	itemStatus
)

type item struct {
	kind  itemKind
	event Event
}

// Options sizes the aggregator windows.
type Options struct {
	LogLines   int
	DriveLines int
	Metrics    *metrics.Recorder
}

// OptionsFromConfig maps the dashboard config section.
func OptionsFromConfig(cfg *config.Config, rec *metrics.Recorder) Options {
	return Options{
		LogLines:   cfg.Dashboard.LogLines,
		DriveLines: cfg.Dashboard.DriveLines,
		Metrics:    rec,
	}
}

// Aggregator merges global log events and per-drive output into snapshots.
// All state is owned by the Run goroutine; producers only send on a channel.
type Aggregator struct {
	opts    Options
	drives  []config.Drive
	events  chan item
	out     chan Snapshot
	done    chan struct{}
	dropped atomic.Int64
	once    sync.Once
}

// NewAggregator builds an aggregator with one window per drive.
func NewAggregator(drives []config.Drive, opts Options) *Aggregator {
	if opts.LogLines <= 0 {
		opts.LogLines = defaultLogLines
	}
	if opts.DriveLines <= 0 {
		opts.DriveLines = defaultDriveLines
	}
	return &Aggregator{
		opts:   opts,
		drives: append([]config.Drive(nil), drives...),
		events: make(chan item, eventBuffer),
		out:    make(chan Snapshot, 1),
		done:   make(chan struct{}),
	}
}

// Append implements logging.LogEventSink. It blocks until the aggregator
// accepts the event or stops.
func (a *Aggregator) Append(ev logging.LogEvent) {
	a.send(item{kind: itemLog, event: Event{
		Timestamp: ev.Timestamp,
		Drive:     ev.Drive,
		Level:     ev.Level,
		Text:      ev.Line(),
	}})
}

// DriveOutput queues one line of imaging output without blocking. Lines are
// dropped and counted when the queue is full.
func (a *Aggregator) DriveOutput(drive int, line string) {
	select {
	case a.events <- item{kind: itemOutput, event: Event{Timestamp: time.Now(), Drive: drive, Text: line}}:
	case <-a.done:
	default:
		a.dropped.Add(1)
		a.opts.Metrics.DroppedLines(1)
	}
}

// DriveStatus sets the status shown in a drive section title.
func (a *Aggregator) DriveStatus(drive int, status string) {
	a.send(item{kind: itemStatus, event: Event{Timestamp: time.Now(), Drive: drive, Text: status}})
}

// Snapshots delivers the latest state after every event. Only the newest
// snapshot is kept when the reader falls behind. The channel closes when
// Run returns.
func (a *Aggregator) Snapshots() <-chan Snapshot {
	return a.out
}

// Dropped reports how many drive output lines were discarded.
func (a *Aggregator) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Aggregator) send(it item) {
	select {
	case a.events <- it:
	case <-a.done:
	}
}

// Run owns the aggregator state until ctx ends.
func (a *Aggregator) Run(ctx context.Context) {
	defer a.once.Do(func() {
		close(a.done)
		close(a.out)
	})

	state := newState(a.drives, a.opts)
	a.publish(state.snapshot(a.dropped.Load()))
	for {
		select {
		case <-ctx.Done():
			// Flush what producers already queued.
			for {
				select {
				case it := <-a.events:
					state.apply(it)
				default:
					a.publish(state.snapshot(a.dropped.Load()))
					return
				}
			}
		case it := <-a.events:
			state.apply(it)
			a.publish(state.snapshot(a.dropped.Load()))
		}
	}
}

func (a *Aggregator) publish(snap Snapshot) {
	select {
	case a.out <- snap:
		return
	default:
	}
	select {
	case <-a.out:
	default:
	}
	// Run is the only sender, so the buffer slot is free now.
	a.out <- snap
}

type state struct {
	logs       *ring
	drives     []DriveView
	windows    map[int]*ring
	driveLines int
}

func newState(drives []config.Drive, opts Options) *state {
	s := &state{
		logs:       newRing(opts.LogLines),
		windows:    make(map[int]*ring, len(drives)),
		driveLines: opts.DriveLines,
	}
	for _, drive := range drives {
		s.drives = append(s.drives, DriveView{Index: drive.Index, Device: drive.Device, Status: "idle"})
		s.windows[drive.Index] = newRing(opts.DriveLines)
	}
	return s
}

func (s *state) apply(it item) {
	switch it.kind {
	case itemLog:
		s.logs.push(it.event)
		if it.event.Drive > 0 && it.event.Level >= slog.LevelWarn {
			if w, ok := s.windows[it.event.Drive]; ok {
				w.push(it.event)
			}
		}
	case itemOutput:
		if w, ok := s.windows[it.event.Drive]; ok {
			w.push(it.event)
		}
	case itemStatus:
		for i := range s.drives {
			if s.drives[i].Index == it.event.Drive {
				s.drives[i].Status = it.event.Text
			}
		}
	}
}

func (s *state) snapshot(dropped int64) Snapshot {
	snap := Snapshot{
		Logs:    s.logs.items(),
		Drives:  make([]DriveView, len(s.drives)),
		Dropped: dropped,
	}
	for i, view := range s.drives {
		events := s.windows[view.Index].items()
		lines := make([]string, len(events))
		for j, ev := range events {
			lines[j] = ev.Text
		}
		view.Lines = lines
		snap.Drives[i] = view
	}
	return snap
}

// ring is a bounded FIFO of events.
type ring struct {
	buf   []Event
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(ev Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []Event {
	out := make([]Event, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
