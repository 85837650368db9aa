package testsupport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"autorip/internal/config"
	"autorip/internal/services"
)

// Wire responses the simulated robot produces.
const (
	StatusReady    = "+!e1000000C"
	StatusBayDoor  = "+!e1005000C"
	StatusDoorOpen = "+!e1006000C"
	PickAck        = "+!f11C"
	NoDisc         = "+!f10C"
	BinEmpty       = "+!f01036000C"
	BinError       = "+!f01365534C"
)

// Robot simulates the autoloader behind the serial protocol. It implements
// autoloader.Transport.
type Robot struct {
	mu          sync.Mutex
	calibration config.Calibration
	capacity    int
	counts      map[int]int
	drives      map[int]bool
	holding     bool
	statuses    []string
	binErrors   map[int]int
	commands    []string
	responses   map[string]string
	exchangeErr error
	delay       time.Duration
	exchanges   int
	dropFrom    int
	dropCount   int

	inflight    atomic.Int32
	maxInflight atomic.Int32
	closed      atomic.Bool
}

// NewRobot returns a robot whose bins hold the given counts.
func NewRobot(cal config.Calibration, capacity int, counts map[int]int) *Robot {
	r := &Robot{
		calibration: cal,
		capacity:    capacity,
		counts:      make(map[int]int),
		drives:      make(map[int]bool),
		binErrors:   make(map[int]int),
		responses:   make(map[string]string),
	}
	for bin, count := range counts {
		r.counts[bin] = count
	}
	return r
}

// QueueStatuses makes the next status probes return statuses in order
// before reporting ready again. Mechanical commands are ignored while
// statuses are queued.
func (r *Robot) QueueStatuses(statuses ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statuses...)
}

// FailProbes makes the next n probes of bin return the error sentinel.
func (r *Robot) FailProbes(bin, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binErrors[bin] = n
}

// Override pins the response to a command.
func (r *Robot) Override(command, response string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[command] = response
}

// FailExchanges makes every exchange fail with err until cleared with nil.
func (r *Robot) FailExchanges(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchangeErr = err
}

// DropExchanges makes n exchanges, starting with exchange number from
// (counting from 1), time out before the command reaches the robot.
func (r *Robot) DropExchanges(from, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropFrom = from
	r.dropCount = n
}

// SetDelay slows every exchange, widening race windows.
func (r *Robot) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Count returns the current count of bin.
func (r *Robot) Count(bin int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[bin]
}

// Loaded reports whether the drive bay holds a disc.
func (r *Robot) Loaded(bay int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drives[bay]
}

// Holding reports whether the arm holds a disc.
func (r *Robot) Holding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holding
}

// Commands returns every command received, status probes included.
func (r *Robot) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// MaxInflight returns the highest number of concurrent exchanges observed.
func (r *Robot) MaxInflight() int {
	return int(r.maxInflight.Load())
}

// Closed reports whether Close was called.
func (r *Robot) Closed() bool {
	return r.closed.Load()
}

// ProbeResponse renders the probe answer for a bin holding count discs.
func ProbeResponse(cal config.Calibration, capacity, count int) string {
	if count <= 0 {
		return BinEmpty
	}
	offset := int(cal.DefaultOffset) + (capacity-count)*int(cal.DiscHeight)
	return fmt.Sprintf("+!f010%04d0C", offset)
}

// Exchange implements autoloader.Transport.
func (r *Robot) Exchange(ctx context.Context, command string) (string, error) {
	n := r.inflight.Add(1)
	defer r.inflight.Add(-1)
	for {
		seen := r.maxInflight.Load()
		if n <= seen || r.maxInflight.CompareAndSwap(seen, n) {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	delay := r.delay
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges++
	if r.dropCount > 0 && r.exchanges >= r.dropFrom && r.exchanges < r.dropFrom+r.dropCount {
		return "", services.Wrap(services.ErrTransportTimeout, "robot", "exchange", "frame dropped", nil)
	}
	r.commands = append(r.commands, command)
	if r.exchangeErr != nil {
		return "", r.exchangeErr
	}
	if response, ok := r.responses[command]; ok {
		return response, nil
	}
	return r.respond(command), nil
}

func (r *Robot) respond(command string) string {
	if command == "!e1C" {
		if len(r.statuses) > 0 {
			status := r.statuses[0]
			r.statuses = r.statuses[1:]
			return status
		}
		return StatusReady
	}
	if len(r.statuses) > 0 {
		// A latched fault blocks mechanical commands.
		return ""
	}
	if !strings.HasPrefix(command, "!f") || !strings.HasSuffix(command, "C") || len(command) < 7 {
		return ""
	}
	body := command[2 : len(command)-1]
	switch {
	case strings.HasPrefix(body, "020") && len(body) == 4:
		bin := digit(body[3]) + 1
		if r.binErrors[bin] > 0 {
			r.binErrors[bin]--
			return BinError
		}
		return ProbeResponse(r.calibration, r.capacity, r.counts[bin])
	case strings.HasPrefix(body, "120") && len(body) == 5:
		bin := digit(body[3]) + 1
		switch body[4] {
		case '2':
			if r.counts[bin] == 0 || r.holding {
				return NoDisc
			}
			r.counts[bin]--
			r.holding = true
			return PickAck
		case '1':
			if r.holding {
				r.counts[bin]++
				r.holding = false
			}
			return PickAck
		}
	case strings.HasPrefix(body, "124") && len(body) == 5:
		bay := digit(body[3])
		switch body[4] {
		case '0':
			return PickAck
		case '1':
			if r.holding {
				r.drives[bay] = true
				r.holding = false
			}
			return PickAck
		case '2':
			if !r.drives[bay] {
				return NoDisc
			}
			r.drives[bay] = false
			r.holding = true
			return PickAck
		}
	}
	return ""
}

func digit(b byte) int {
	n, _ := strconv.Atoi(string(b))
	return n
}

// Close implements autoloader.Transport.
func (r *Robot) Close() error {
	r.closed.Store(true)
	return nil
}
