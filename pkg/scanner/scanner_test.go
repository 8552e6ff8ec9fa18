package scanner

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/pkg/events"
	"watchtower/pkg/sysprobe"
)

type fakeSockets struct {
	sockets []sysprobe.ListenSocket
	err     error
}

func (f *fakeSockets) ListeningSockets() ([]sysprobe.ListenSocket, error) {
	return f.sockets, f.err
}

func TestFilePermissionFinding(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(keyPath, []byte("key material"), 0o644))

	cfg := Config{ExpectedModes: map[string]os.FileMode{keyPath: 0o600}}
	s := New(cfg, nil, nil, nil, nil)

	report := s.Scan(context.Background())
	require.Len(t, report.Vulnerabilities, 1)
	v := report.Vulnerabilities[0]
	assert.Equal(t, "file_permissions", v.Kind)
	assert.Equal(t, events.SeverityHigh, v.Severity)
	assert.Equal(t, "chmod 600 "+keyPath, v.Remediation)
}

func TestStricterModeThanExpectedIsNotAFinding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o400))

	s := New(Config{ExpectedModes: map[string]os.FileMode{path: 0o644}}, nil, nil, nil, nil)
	report := s.Scan(context.Background())
	assert.Empty(t, report.Vulnerabilities)
}

func TestWorldWritableIsCritical(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o666))

	s := New(Config{ExpectedModes: map[string]os.FileMode{path: 0o600}}, nil, nil, nil, nil)
	report := s.Scan(context.Background())
	require.Len(t, report.Vulnerabilities, 1)
	assert.Equal(t, events.SeverityCritical, report.Vulnerabilities[0].Severity)
}

func TestExposedPorts(t *testing.T) {
	sockets := &fakeSockets{sockets: []sysprobe.ListenSocket{
		{Addr: net.IPv4zero, Port: 23},
		{Addr: net.IPv4zero, Port: 5432},
		{Addr: net.ParseIP("127.0.0.1"), Port: 6379},
		{Addr: net.IPv4zero, Port: 8080},
	}}
	s := New(Config{}, nil, nil, sockets, nil)

	report := s.Scan(context.Background())
	bySource := map[string]Vulnerability{}
	for _, v := range report.Vulnerabilities {
		bySource[v.Source] = v
	}
	require.Len(t, bySource, 2, "loopback binds and non-dangerous ports are ignored")
	assert.Equal(t, events.SeverityCritical, bySource["port 23"].Severity)
	assert.Equal(t, events.SeverityHigh, bySource["port 5432"].Severity)
}

func TestContainerFindings(t *testing.T) {
	containers := &sysprobe.FakeContainerInspector{Containers: []sysprobe.ContainerInfo{
		{Name: "db", Image: "postgres:16", User: "root"},
		{Name: "cache", Image: "redis:7", User: "redis", Privileged: true,
			HostPorts: []sysprobe.HostPort{{HostIP: "0.0.0.0", HostPort: 6379}}},
		{Name: "app", Image: "app:1", User: "app",
			HostPorts: []sysprobe.HostPort{{HostIP: "10.0.0.1", HostPort: 5432}}},
	}}
	s := New(Config{}, containers, nil, nil, nil)

	report := s.Scan(context.Background())
	kinds := map[string]int{}
	for _, v := range report.Vulnerabilities {
		kinds[v.Kind]++
	}
	assert.Equal(t, 1, kinds["container_root_user"], "only db runs as root")
	assert.Equal(t, 1, kinds["container_privileged"])
	assert.Equal(t, 1, kinds["container_exposed_port"], "port published on a specific address is fine")
}

func TestDependencyAdvisories(t *testing.T) {
	tool := &sysprobe.FakeAdvisoryTool{Advisories: []sysprobe.Advisory{
		{ID: "GHSA-xxxx", Package: "left-pad", Version: "1.0.0", Severity: "HIGH", FixedIn: "1.0.1", Summary: "prototype pollution"},
		{ID: "CVE-2026-0001", Package: "libfoo", Version: "2.3.0"},
	}}
	s := New(Config{ProjectDir: t.TempDir()}, nil, tool, nil, nil)

	report := s.Scan(context.Background())
	require.Len(t, report.Vulnerabilities, 2)
	assert.Equal(t, events.SeverityHigh, report.Vulnerabilities[0].Severity)
	assert.Equal(t, "upgrade left-pad to 1.0.1", report.Vulnerabilities[0].Remediation)
	assert.Equal(t, events.SeverityMedium, report.Vulnerabilities[1].Severity, "unknown advisory severity defaults to MEDIUM")
	assert.Equal(t, "upgrade libfoo", report.Vulnerabilities[1].Remediation)
}

func TestSummaryBucketsSumToTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o666))

	containers := &sysprobe.FakeContainerInspector{Containers: []sysprobe.ContainerInfo{
		{Name: "c1", Image: "img", User: "0", Privileged: true},
	}}
	tool := &sysprobe.FakeAdvisoryTool{Advisories: []sysprobe.Advisory{
		{ID: "A-1", Package: "p", Version: "1", Severity: "LOW"},
		{ID: "A-2", Package: "q", Version: "1", Severity: "whatever"},
	}}
	sockets := &fakeSockets{sockets: []sysprobe.ListenSocket{{Addr: net.IPv4zero, Port: 22}}}

	s := New(Config{ExpectedModes: map[string]os.FileMode{path: 0o600}}, containers, tool, sockets, nil)
	report := s.Scan(context.Background())

	sum := report.Summary
	assert.Equal(t, sum.Total, sum.Critical+sum.High+sum.Medium+sum.Low)
	assert.Equal(t, len(report.Vulnerabilities), sum.Total)
	assert.NotEmpty(t, report.ScanID)
}

func TestProbeFailureDoesNotSuppressOthers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	tool := &sysprobe.FakeAdvisoryTool{Err: os.ErrPermission}
	sockets := &fakeSockets{err: os.ErrPermission}

	s := New(Config{ExpectedModes: map[string]os.FileMode{path: 0o600}}, nil, tool, sockets, nil)
	report := s.Scan(context.Background())
	require.Len(t, report.Vulnerabilities, 1)
	assert.Equal(t, "file_permissions", report.Vulnerabilities[0].Kind)
}

func TestScanPersistsReport(t *testing.T) {
	out := t.TempDir()
	s := New(Config{OutputDir: out}, nil, nil, nil, nil)
	report := s.Scan(context.Background())

	data, err := os.ReadFile(filepath.Join(out, "vulnerability_scan_"+report.ScanID+".json"))
	require.NoError(t, err)
	var stored Report
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, report.ScanID, stored.ScanID)
	assert.NotNil(t, stored.Vulnerabilities, "empty scan still serializes an array")
}
