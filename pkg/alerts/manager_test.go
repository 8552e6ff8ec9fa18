package alerts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/pkg/audit"
	"watchtower/pkg/events"
)

func TestNewIDDeterministic(t *testing.T) {
	at := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	a := NewID("authentication_failure", "192.0.2.5", at)
	b := NewID("authentication_failure", "192.0.2.5", at.Add(500*time.Millisecond))
	assert.Equal(t, a, b, "same type, value and second share an id")
	assert.Len(t, a, 8)

	assert.NotEqual(t, a, NewID("authentication_failure", "192.0.2.6", at))
	assert.NotEqual(t, a, NewID("file_tampering", "192.0.2.5", at))
	assert.NotEqual(t, a, NewID("authentication_failure", "192.0.2.5", at.Add(time.Second)))
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	auditLog, err := audit.New(filepath.Join(dir, "audit"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	m, err := NewManager(filepath.Join(dir, "alerts"), auditLog, nil, ChannelConfig{}, nil)
	require.NoError(t, err)
	return m, filepath.Join(dir, "alerts")
}

func TestTriggerPersistsSnapshotAndIndex(t *testing.T) {
	m, dir := newTestManager(t)

	alert := m.Trigger(context.Background(), "certificate_expiry", "api.example.com", events.SeverityCritical,
		"certificate expires in 5 days", map[string]any{"days_left": 5})
	require.NotEmpty(t, alert.ID)

	data, err := os.ReadFile(filepath.Join(dir, "alert_"+alert.ID+".json"))
	require.NoError(t, err)
	var snap Alert
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, alert.ID, snap.ID)
	assert.Equal(t, "certificate_expiry", snap.Kind)
	assert.Equal(t, events.SeverityCritical, snap.Severity)

	data, err = os.ReadFile(filepath.Join(dir, "active_alerts.json"))
	require.NoError(t, err)
	var index struct {
		Timestamp time.Time `json:"timestamp"`
		Alerts    []Alert   `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(data, &index))
	require.Len(t, index.Alerts, 1)
	assert.Equal(t, alert.ID, index.Alerts[0].ID)
	assert.False(t, index.Timestamp.IsZero())
}

func TestTriggerDeduplicatesWithinSecond(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first := m.Trigger(ctx, "network_fan_in", "203.0.113.7", events.SeverityWarning, "fan-in burst", nil)
	second := m.Trigger(ctx, "network_fan_in", "203.0.113.7", events.SeverityWarning, "fan-in burst", nil)

	if first.ID == second.ID {
		assert.Len(t, m.Active(), 1, "identical alert in the same second is not duplicated")
	} else {
		// The clock ticked over between the two calls; both alerts stand.
		assert.Len(t, m.Active(), 2)
	}
}

func TestActiveReturnsCopy(t *testing.T) {
	m, _ := newTestManager(t)
	m.Trigger(context.Background(), "file_tampering", "/etc/hosts", events.SeverityWarning, "recent modification", nil)

	active := m.Active()
	require.Len(t, active, 1)
	active[0].Kind = "mutated"
	assert.Equal(t, "file_tampering", m.Active()[0].Kind)
}

func TestTriggerWritesAuditTrail(t *testing.T) {
	dir := t.TempDir()
	auditLog, err := audit.New(dir, nil)
	require.NoError(t, err)
	defer auditLog.Close()

	m, err := NewManager(filepath.Join(dir, "alerts"), auditLog, nil, ChannelConfig{}, nil)
	require.NoError(t, err)

	alert := m.Trigger(context.Background(), "resource_exhaustion", "cpu", events.SeverityCritical, "cpu at 97%", nil)

	data, err := os.ReadFile(filepath.Join(dir, audit.SecurityLogFile))
	require.NoError(t, err)
	var entry audit.SecurityEntry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "resource_exhaustion", entry.EventType)
	assert.Equal(t, events.SeverityCritical, entry.Severity)
	assert.Equal(t, alert.ID, entry.Details["alert_id"])
}
