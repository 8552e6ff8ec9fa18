package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"watchtower/pkg/audit"
	"watchtower/pkg/events"
	"watchtower/shared/eventbus"
)

var alertsCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{Namespace: "watchtower", Subsystem: "alerts", Name: "created_total", Help: "Alerts created, by severity."},
	[]string{"severity"},
)

func init() {
	_ = prometheus.Register(alertsCreated)
}

// ChannelConfig toggles the optional notification channels. The file channel
// (per-alert snapshot plus active_alerts.json) is always on.
type ChannelConfig struct {
	Email  bool
	Slack  bool
	Syslog bool
}

// Manager owns the in-memory active-alert list and the alerts directory.
type Manager struct {
	mu     sync.Mutex
	active []Alert

	dir   string
	audit *audit.Logger
	bus   *eventbus.Bus
	log   *slog.Logger
}

// NewManager creates the alerts directory and registers the enabled
// notification channels on the bus.
func NewManager(dir string, auditLog *audit.Logger, bus *eventbus.Bus, channels ChannelConfig, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create alerts dir: %w", err)
	}
	m := &Manager{dir: dir, audit: auditLog, bus: bus, log: log}
	if bus != nil {
		if channels.Email {
			bus.Register(stubChannel{name: "email", log: log})
		}
		if channels.Slack {
			bus.Register(stubChannel{name: "slack", log: log})
		}
		if channels.Syslog {
			bus.Register(stubChannel{name: "syslog", log: log})
		}
	}
	return m, nil
}

// Trigger creates an alert for a detected threat: computes the deterministic
// id, appends to the active list, persists the snapshot, logs through the
// audit trail at the threat's severity and notifies the enabled channels.
// A duplicate id within the same second returns the existing alert untouched.
func (m *Manager) Trigger(ctx context.Context, kind, value string, severity events.Severity, description string, details map[string]any) Alert {
	now := time.Now().UTC()
	id := NewID(kind, value, now)

	m.mu.Lock()
	for _, a := range m.active {
		if a.ID == id {
			m.mu.Unlock()
			return a
		}
	}
	alert := Alert{
		ID:          id,
		Timestamp:   now,
		Kind:        kind,
		Value:       value,
		Severity:    severity,
		Description: description,
		Details:     details,
	}
	m.active = append(m.active, alert)
	snapshot := make([]Alert, len(m.active))
	copy(snapshot, m.active)
	m.mu.Unlock()

	alertsCreated.WithLabelValues(string(severity)).Inc()
	m.persist(alert, snapshot)

	if m.audit != nil {
		m.audit.LogSecurityEvent(kind, mergeDetails(details, map[string]any{
			"alert_id": id,
			"value":    value,
		}), severity)
	}
	if m.bus != nil {
		if err := m.bus.Publish(ctx, eventbus.Message{
			Topic:   eventbus.TopicAlertCreated,
			Source:  "alerts",
			Payload: alert,
		}); err != nil {
			m.log.Error("alert notification publish failed", "alert_id", id, "err", err)
		}
	}
	return alert
}

// Active returns a copy of the active-alert list.
func (m *Manager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.active))
	copy(out, m.active)
	return out
}

// persist writes the per-alert snapshot and rewrites active_alerts.json in
// full. Write failures are logged and swallowed; alert loss at this layer is
// accepted.
func (m *Manager) persist(alert Alert, active []Alert) {
	data, err := json.MarshalIndent(alert, "", "  ")
	if err == nil {
		path := filepath.Join(m.dir, fmt.Sprintf("alert_%s.json", alert.ID))
		if werr := os.WriteFile(path, data, 0o644); werr != nil {
			m.log.Error("alert snapshot write failed", "alert_id", alert.ID, "err", werr)
		}
	} else {
		m.log.Error("alert marshal failed", "alert_id", alert.ID, "err", err)
	}

	index := struct {
		Timestamp time.Time `json:"timestamp"`
		Alerts    []Alert   `json:"alerts"`
	}{Timestamp: time.Now().UTC(), Alerts: active}
	data, err = json.MarshalIndent(index, "", "  ")
	if err != nil {
		m.log.Error("active alerts marshal failed", "err", err)
		return
	}
	if err := os.WriteFile(filepath.Join(m.dir, "active_alerts.json"), data, 0o644); err != nil {
		m.log.Error("active alerts write failed", "err", err)
	}
}

func mergeDetails(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// stubChannel stands in for a transport that lives outside this subsystem.
// It records delivery intent in the component log only.
type stubChannel struct {
	name string
	log  *slog.Logger
}

func (c stubChannel) Topics() []string { return []string{eventbus.TopicAlertCreated} }

func (c stubChannel) Handle(_ context.Context, msg eventbus.Message) {
	alert, ok := msg.Payload.(Alert)
	if !ok {
		return
	}
	c.log.Info("alert notification dispatched",
		"channel", c.name, "alert_id", alert.ID, "severity", alert.Severity)
}
