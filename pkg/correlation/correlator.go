package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"watchtower/pkg/audit"
	"watchtower/pkg/events"
	"watchtower/pkg/sysprobe"
	"watchtower/shared/eventbus"
)

var (
	eventsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "watchtower", Subsystem: "correlator", Name: "events_ingested_total", Help: "Events ingested into the sliding buffer."},
	)
	correlationsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "watchtower", Subsystem: "correlator", Name: "correlations_fired_total", Help: "Correlations fired, by rule."},
		[]string{"rule"},
	)
)

func init() {
	_ = prometheus.Register(eventsIngested)
	_ = prometheus.Register(correlationsFired)
}

// Config wires a Correlator.
type Config struct {
	SiemDir   string
	Rules     []Rule
	Retention time.Duration
	Audit     *audit.Logger
	Firewall  sysprobe.FirewallController
	Bus       *eventbus.Bus
	Logger    *slog.Logger
}

// Correlator owns the sliding event buffer, the static rule table and the
// response actions. It is safe for concurrent ProcessEvent callers; the
// buffer and per-rule fire state are mutex-guarded.
type Correlator struct {
	window  *events.Window
	archive *events.Archive
	rules   []Rule

	audit    *audit.Logger
	firewall sysprobe.FirewallController
	bus      *eventbus.Bus
	log      *slog.Logger
	siemDir  string

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// New validates the rule set and opens the event archive under SiemDir.
func New(cfg Config) (*Correlator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}
	for _, r := range cfg.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule table: %w", err)
		}
	}
	archive, err := events.NewArchive(cfg.SiemDir)
	if err != nil {
		return nil, err
	}
	return &Correlator{
		window:    events.NewWindow(cfg.Retention),
		archive:   archive,
		rules:     cfg.Rules,
		audit:     cfg.Audit,
		firewall:  cfg.Firewall,
		bus:       cfg.Bus,
		log:       cfg.Logger,
		siemDir:   cfg.SiemDir,
		lastFired: make(map[string]time.Time),
	}, nil
}

// Rules returns the static rule table.
func (c *Correlator) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// BufferLen returns the current sliding-buffer size.
func (c *Correlator) BufferLen() int { return c.window.Len() }

// ProcessEvent ingests one event: stamps a missing timestamp, appends to the
// buffer (pruning the 24h horizon), archives the raw event, then evaluates
// every rule against the whole current buffer. Nothing in here propagates an
// error to the caller; failures are contained and logged.
func (c *Correlator) ProcessEvent(ctx context.Context, ev events.Event) []Correlation {
	if err := ev.Validate(); err != nil {
		c.log.Warn("event rejected at ingest", "err", err)
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	c.window.Add(ev)
	eventsIngested.Inc()

	if err := c.archive.Append(ev); err != nil {
		c.log.Error("event archive write failed", "kind", ev.Kind, "err", err)
	}

	now := time.Now().UTC()
	var fired []Correlation
	for _, rule := range c.rules {
		if !c.shouldEvaluate(rule, now) {
			continue
		}
		if !c.ruleHolds(rule, now) {
			continue
		}
		c.markFired(rule, now)
		corr := Correlation{
			ID:        uuid.NewString(),
			Rule:      rule.Name,
			Severity:  rule.Severity,
			Action:    rule.Action,
			Event:     ev,
			Timestamp: now,
		}
		fired = append(fired, corr)
		correlationsFired.WithLabelValues(rule.Name).Inc()
		c.log.Warn("correlation fired",
			"rule", rule.Name, "severity", rule.Severity, "action", rule.Action, "event", ev.Kind)

		if c.audit != nil {
			c.audit.LogSecurityEvent("correlation_triggered", map[string]any{
				"correlation_id": corr.ID,
				"rule":           rule.Name,
				"description":    rule.Description,
				"event_type":     ev.Kind,
				"action":         rule.Action,
			}, rule.Severity)
		}
		if c.bus != nil {
			if err := c.bus.Publish(ctx, eventbus.Message{
				Topic:   eventbus.TopicCorrelationFired,
				Source:  "correlator",
				Payload: corr,
			}); err != nil {
				c.log.Error("correlation publish failed", "rule", rule.Name, "err", err)
			}
		}
		c.execute(ctx, corr)
	}
	return fired
}

// ruleHolds is a strict conjunction: every condition must hold against the
// current buffer at the same instant. Distinct event types each satisfy their
// own window and count independently.
func (c *Correlator) ruleHolds(rule Rule, now time.Time) bool {
	for _, cond := range rule.Conditions {
		if !c.conditionHolds(cond, now) {
			return false
		}
	}
	return true
}

func (c *Correlator) conditionHolds(cond Condition, now time.Time) bool {
	matched := c.window.RecentByKind(cond.EventKind, cond.Timeframe(), now)
	if cond.Path != "" {
		var withPath []events.Event
		for _, ev := range matched {
			if ev.Attr("path") == cond.Path {
				withPath = append(withPath, ev)
			}
		}
		matched = withPath
	}
	need := cond.Count
	if need <= 0 {
		need = 1
	}
	return len(matched) >= need
}

// shouldEvaluate suppresses re-firing while the events that satisfied the
// rule are still inside its widest window, so one burst yields one
// correlation.
func (c *Correlator) shouldEvaluate(rule Rule, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastFired[rule.Name]
	if !ok {
		return true
	}
	return now.Sub(last) >= rule.refireWindow()
}

func (c *Correlator) markFired(rule Rule, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFired[rule.Name] = now
}
