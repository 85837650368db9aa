// Package metrics records robot, inventory, and imaging counters in a
// Prometheus registry and periodically writes them to a node_exporter
// textfile. autorip exposes no network listener.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"autorip/internal/logging"
)

const namespace = "autorip"

// Recorder holds every autorip metric. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	exchanges        *prometheus.CounterVec
	faults           *prometheus.CounterVec
	persistentFaults prometheus.Counter
	linkUp           prometheus.Gauge
	binCount         *prometheus.GaugeVec
	discs            *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	workerActive     *prometheus.GaugeVec
	droppedLines     prometheus.Counter
}

// New creates a Recorder with its own registry plus Go runtime collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "robot",
			Name:      "exchanges_total",
			Help:      "Serial command/response exchanges by result",
		}, []string{"result"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "robot",
			Name:      "faults_total",
			Help:      "Fault episodes observed on the status probe",
		}, []string{"kind"}),
		persistentFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "robot",
			Name:      "persistent_faults_total",
			Help:      "Commands abandoned after exhausting fault retries",
		}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "robot",
			Name:      "link_up",
			Help:      "1 when the last serial exchange succeeded",
		}),
		binCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "bin_discs",
			Help:      "Last inferred disc count per bin",
		}, []string{"bin"}),
		discs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imaging",
			Name:      "discs_total",
			Help:      "Imaging jobs finished per drive and result",
		}, []string{"drive", "result"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "imaging",
			Name:      "phase_duration_seconds",
			Help:      "ddrescue phase wall time",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 10),
		}, []string{"phase"}),
		workerActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "active",
			Help:      "1 while the drive worker loop is running",
		}, []string{"drive"}),
		droppedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "dropped_lines_total",
			Help:      "Drive output lines dropped because the aggregator was busy",
		}),
	}
	r.registry.MustRegister(
		r.exchanges, r.faults, r.persistentFaults, r.linkUp, r.binCount,
		r.discs, r.phaseDuration, r.workerActive, r.droppedLines,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Exchange counts one serial exchange.
func (r *Recorder) Exchange(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.exchanges.WithLabelValues(result).Inc()
	if ok {
		r.linkUp.Set(1)
	} else {
		r.linkUp.Set(0)
	}
}

// Fault counts the start of a fault episode.
func (r *Recorder) Fault(kind string) {
	if r == nil {
		return
	}
	r.faults.WithLabelValues(kind).Inc()
}

// PersistentFault counts a command abandoned after retries.
func (r *Recorder) PersistentFault() {
	if r == nil {
		return
	}
	r.persistentFaults.Inc()
}

// BinCount records the latest inferred count for a bin.
func (r *Recorder) BinCount(bin, count int) {
	if r == nil {
		return
	}
	r.binCount.WithLabelValues(strconv.Itoa(bin)).Set(float64(count))
}

// DiscFinished counts one imaging job outcome.
func (r *Recorder) DiscFinished(drive int, result string) {
	if r == nil {
		return
	}
	r.discs.WithLabelValues(strconv.Itoa(drive), result).Inc()
}

// PhaseFinished records one ddrescue phase duration.
func (r *Recorder) PhaseFinished(phase int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.phaseDuration.WithLabelValues(strconv.Itoa(phase)).Observe(elapsed.Seconds())
}

// WorkerActive flags a drive worker as running or stopped.
func (r *Recorder) WorkerActive(drive int, active bool) {
	if r == nil {
		return
	}
	value := 0.0
	if active {
		value = 1
	}
	r.workerActive.WithLabelValues(strconv.Itoa(drive)).Set(value)
}

// DroppedLines counts drive output lines the dashboard skipped.
func (r *Recorder) DroppedLines(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.droppedLines.Add(float64(n))
}

// WriteTextfile writes the registry in text exposition format, atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Run flushes the textfile every interval until ctx ends, then once more.
func (r *Recorder) Run(ctx context.Context, path string, interval time.Duration, logger *slog.Logger) {
	if r == nil || path == "" {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	flush := func() {
		if err := r.WriteTextfile(path); err != nil {
			logging.WarnWithContext(logger, "metrics flush failed", "metrics_flush_failed",
				logging.Error(err),
				logging.String("path", path),
				logging.String(logging.FieldErrorHint, "check metrics.textfile_path directory permissions"),
				logging.String(logging.FieldImpact, "metrics file is stale"),
			)
		}
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}
