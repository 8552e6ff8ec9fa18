// Package monitor drives the periodic monitoring cycle: threat probing,
// alerting, vulnerability scanning and event forwarding into the correlator.
// Cycle failure is never fatal; only an explicit stop terminates the loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"watchtower/pkg/alerts"
	"watchtower/pkg/audit"
	"watchtower/pkg/correlation"
	"watchtower/pkg/detector"
	"watchtower/pkg/events"
	"watchtower/pkg/scanner"
)

var (
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "watchtower", Subsystem: "monitor", Name: "cycle_duration_seconds", Help: "Monitoring cycle duration."},
	)
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "watchtower", Subsystem: "monitor", Name: "cycles_total", Help: "Monitoring cycles, by outcome."},
		[]string{"outcome"},
	)
	threatsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "watchtower", Subsystem: "monitor", Name: "threats_detected_total", Help: "Threats produced by detector probes."},
	)
)

func init() {
	_ = prometheus.Register(cycleDuration)
	_ = prometheus.Register(cyclesTotal)
	_ = prometheus.Register(threatsDetected)
}

// ErrAlreadyRunning is returned by Start on a running orchestrator.
var ErrAlreadyRunning = errors.New("monitor: already running")

// Config holds loop timings.
type Config struct {
	// Interval between successful cycles.
	Interval time.Duration
	// RetryInterval applies after a failed cycle.
	RetryInterval time.Duration
	// ScanEveryMinutes gates the vulnerability scan to wall-clock minutes
	// divisible by this value.
	ScanEveryMinutes int
}

// DefaultConfig returns the standard 60s/30s/10min timings.
func DefaultConfig() Config {
	return Config{Interval: 60 * time.Second, RetryInterval: 30 * time.Second, ScanEveryMinutes: 10}
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 30 * time.Second
	}
	if c.ScanEveryMinutes <= 0 {
		c.ScanEveryMinutes = 10
	}
}

// Orchestrator owns the run/stop lifecycle of the monitoring loop.
type Orchestrator struct {
	cfg        Config
	detector   *detector.Detector
	scanner    *scanner.Scanner
	correlator *correlation.Correlator
	alerts     *alerts.Manager
	audit      *audit.Logger
	log        *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New wires an orchestrator. Scanner may be nil to disable periodic scans.
func New(cfg Config, det *detector.Detector, scn *scanner.Scanner, corr *correlation.Correlator, mgr *alerts.Manager, auditLog *audit.Logger, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:        cfg,
		detector:   det,
		scanner:    scn,
		correlator: corr,
		alerts:     mgr,
		audit:      auditLog,
		log:        log,
	}
}

// Start transitions Stopped to Running and launches the loop.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true
	go o.run(ctx, o.done)
	o.log.Info("monitoring started", "interval", o.cfg.Interval)
	if o.audit != nil {
		o.audit.LogSystemEvent("monitoring", "started", map[string]any{
			"interval_seconds": int(o.cfg.Interval.Seconds()),
		})
	}
	return nil
}

// Stop requests termination and waits for the in-flight cycle to complete.
// The stop flag is only checked between cycles, never mid-cycle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	o.log.Info("monitoring stopped")
	if o.audit != nil {
		o.audit.LogSystemEvent("monitoring", "stopped", nil)
	}
}

// Running reports the loop state.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		_, err := o.cycle(ctx)
		cycleDuration.Observe(time.Since(start).Seconds())

		wait := o.cfg.Interval
		if err != nil {
			cyclesTotal.WithLabelValues("error").Inc()
			o.log.Error("monitoring cycle failed", "err", err, "retry_in", o.cfg.RetryInterval)
			wait = o.cfg.RetryInterval
		} else {
			cyclesTotal.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// cycle runs one monitoring tick. A panic inside the tick is converted to an
// error so the loop backs off instead of dying.
func (o *Orchestrator) cycle(ctx context.Context) (threatCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	start := time.Now()

	threats := o.detector.CheckSecurityThreats(ctx)
	threatCount = len(threats)
	threatsDetected.Add(float64(threatCount))
	for _, threat := range threats {
		o.alerts.Trigger(ctx, threat.Kind, threat.Value, threat.Severity, threat.Description, threat.Details)
		o.correlator.ProcessEvent(ctx, threat.Event())
	}

	if o.scanner != nil && time.Now().Minute()%o.cfg.ScanEveryMinutes == 0 {
		report := o.scanner.Scan(ctx)
		o.correlator.ProcessEvent(ctx, scanSummaryEvent(report))
	}

	if o.audit != nil {
		o.audit.LogSystemEvent("monitoring", "cycle_complete", map[string]any{
			"duration_ms":  time.Since(start).Milliseconds(),
			"threat_count": threatCount,
		})
	}
	return threatCount, nil
}

// scanSummaryEvent condenses a scan report into a correlator event.
func scanSummaryEvent(report *scanner.Report) events.Event {
	severity := events.SeverityInfo
	switch {
	case report.Summary.Critical > 0:
		severity = events.SeverityCritical
	case report.Summary.High > 0:
		severity = events.SeverityHigh
	case report.Summary.Medium > 0:
		severity = events.SeverityMedium
	}
	return events.New(events.KindVulnScan, severity, map[string]any{
		"scan_id":  report.ScanID,
		"total":    report.Summary.Total,
		"critical": report.Summary.Critical,
		"high":     report.Summary.High,
		"medium":   report.Summary.Medium,
		"low":      report.Summary.Low,
	})
}
