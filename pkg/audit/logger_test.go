package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/pkg/events"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := New(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, dir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestNewCreatesFourStreams(t *testing.T) {
	_, dir := newTestLogger(t)
	for _, name := range []string{SecurityLogFile, AccessLogFile, SystemLogFile, DatabaseLogFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestLogSecurityEvent(t *testing.T) {
	l, dir := newTestLogger(t)
	l.LogSecurityEvent("correlation_triggered", map[string]any{"rule": "repeated-auth-failure"}, events.SeverityHigh)

	lines := readLines(t, filepath.Join(dir, SecurityLogFile))
	require.Len(t, lines, 1)

	var entry SecurityEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, CategorySecurity, entry.Category)
	assert.Equal(t, "correlation_triggered", entry.EventType)
	assert.Equal(t, events.SeverityHigh, entry.Severity)
	assert.Equal(t, "repeated-auth-failure", entry.Details["rule"])

	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestLogAccessEvent(t *testing.T) {
	l, dir := newTestLogger(t)
	l.LogAccessEvent("/api/login", "alice", "192.0.2.5", 401, map[string]any{"reason": "bad password"})
	l.LogAccessEvent("/api/login", "alice", "192.0.2.5", 200, nil)

	lines := readLines(t, filepath.Join(dir, AccessLogFile))
	require.Len(t, lines, 2)

	var entry AccessEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "/api/login", entry.Endpoint)
	assert.Equal(t, "alice", entry.User)
	assert.Equal(t, "192.0.2.5", entry.SourceIP)
	assert.Equal(t, 401, entry.Status)
}

func TestLogSystemAndDatabaseEvents(t *testing.T) {
	l, dir := newTestLogger(t)
	l.LogSystemEvent("monitoring", "started", map[string]any{"interval_seconds": 60})
	l.LogDatabaseEvent("UPDATE", "users", "svc", nil)

	sys := readLines(t, filepath.Join(dir, SystemLogFile))
	require.Len(t, sys, 1)
	var sysEntry SystemEntry
	require.NoError(t, json.Unmarshal([]byte(sys[0]), &sysEntry))
	assert.Equal(t, "monitoring", sysEntry.Component)
	assert.Equal(t, "started", sysEntry.Event)

	db := readLines(t, filepath.Join(dir, DatabaseLogFile))
	require.Len(t, db, 1)
	var dbEntry DatabaseEntry
	require.NoError(t, json.Unmarshal([]byte(db[0]), &dbEntry))
	assert.Equal(t, "UPDATE", dbEntry.Operation)
	assert.Equal(t, "users", dbEntry.Table)
}

func TestStreamDigest(t *testing.T) {
	l, _ := newTestLogger(t)

	empty, err := l.StreamDigest(CategorySecurity)
	require.NoError(t, err)

	l.LogSecurityEvent("ip_blocked", map[string]any{"ip": "198.51.100.9"}, events.SeverityHigh)
	after, err := l.StreamDigest(CategorySecurity)
	require.NoError(t, err)
	assert.NotEqual(t, empty, after, "appending an entry changes the anchor")

	again, err := l.StreamDigest(CategorySecurity)
	require.NoError(t, err)
	assert.Equal(t, after, again, "the anchor is stable between writes")

	_, err = l.StreamDigest(Category("bogus"))
	assert.Error(t, err)
}

func TestWriteAfterCloseDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.NotPanics(t, func() {
		l.LogSecurityEvent("late", nil, events.SeverityInfo)
	})
}
