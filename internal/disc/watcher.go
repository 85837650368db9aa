package disc

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"autorip/internal/logging"
)

// MediaWatcher listens for udev media-change events and wakes subscribers
// waiting on a specific device.
type MediaWatcher struct {
	logger *slog.Logger

	mu          sync.Mutex
	conn        *netlink.UEventConn
	quit        chan struct{}
	running     bool
	subscribers map[string][]chan struct{}
}

// NewMediaWatcher creates an idle watcher.
func NewMediaWatcher(logger *slog.Logger) *MediaWatcher {
	return &MediaWatcher{
		logger:      logging.NewComponentLogger(logger, "media-watcher"),
		subscribers: make(map[string][]chan struct{}),
	}
}

// Start connects to the kernel uevent socket. Failure is non-fatal: waits
// fall back to polling.
func (w *MediaWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket; media waits will poll", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the process may open netlink sockets"),
			logging.String(logging.FieldImpact, "media detection relies on blkid polling"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.monitorLoop(ctx, conn, quit)

	w.logger.Info("media watcher started", logging.String(logging.FieldEventType, "media_watcher_started"))
	return nil
}

// Stop shuts down the watcher.
func (w *MediaWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
}

// Subscribe returns a channel that receives a value on the next media event
// for device, and a function that releases the subscription.
func (w *MediaWatcher) Subscribe(device string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	if w == nil {
		return ch, func() {}
	}
	device = strings.TrimSpace(device)

	w.mu.Lock()
	w.subscribers[device] = append(w.subscribers[device], ch)
	w.mu.Unlock()

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		subs := w.subscribers[device]
		for i, candidate := range subs {
			if candidate == ch {
				w.subscribers[device] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(w.subscribers[device]) == 0 {
			delete(w.subscribers, device)
		}
	}
}

// Notify wakes every subscriber of device without blocking.
func (w *MediaWatcher) Notify(device string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subscribers[device] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (w *MediaWatcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, mediaMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			device := DeviceFromEvent(uevent.Env)
			if device == "" {
				continue
			}
			w.logger.Debug("media change event",
				logging.String("device", device),
				logging.String("action", string(uevent.Action)),
			)
			w.Notify(device)
		case err := <-errs:
			logging.WarnWithContext(w.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "media detection may fall back to polling"),
			)
		}
	}
}

// mediaMatcher matches optical media insertion: SUBSYSTEM=block,
// ID_CDROM=1, ID_CDROM_MEDIA=1, ACTION=change|add.
func mediaMatcher() netlink.Matcher {
	action := "change|add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":      "block",
			"ID_CDROM":       "1",
			"ID_CDROM_MEDIA": "1",
		},
	})
	return rules
}

// DeviceFromEvent gets the device path from uevent environment values.
func DeviceFromEvent(env map[string]string) string {
	if devname := env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/dev/") {
			return "/dev/" + devname
		}
		return devname
	}
	devpath := env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
