// Package detector runs independent, failure-isolated threat probes: auth
// failure bursts, resource exhaustion, TLS certificate expiry, critical-file
// tampering and network fan-in. Each probe degrades gracefully; one probe's
// failure never suppresses its siblings.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"watchtower/pkg/events"
	"watchtower/pkg/sysprobe"
)

// Threat is a locally-detected security condition, prior to correlation.
type Threat struct {
	Kind        string          `json:"type"`
	Severity    events.Severity `json:"severity"`
	Description string          `json:"description"`
	Value       string          `json:"value"`
	Details     map[string]any  `json:"details,omitempty"`
}

// Event converts a threat into the equivalent correlator event.
func (t Threat) Event() events.Event {
	attrs := make(map[string]any, len(t.Details)+2)
	for k, v := range t.Details {
		attrs[k] = v
	}
	attrs["description"] = t.Description
	if t.Value != "" {
		attrs["value"] = t.Value
	}
	return events.New(t.Kind, t.Severity, attrs)
}

// ResourceSampler is the slice of sysprobe sampling the probes need.
type ResourceSampler interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent() (float64, error)
	DiskPercent(path string) (float64, error)
	RemoteConnections() (map[string]int, error)
}

// Config holds the probe thresholds. Zero values fall back to defaults.
type Config struct {
	AccessLogPath        string
	FailedLoginWindow    time.Duration
	FailedLoginThreshold int

	WarnPercent float64
	CritPercent float64
	DiskPath    string

	CertTargets  []string
	CertWarnDays int
	CertCritDays int

	CriticalFiles    []string
	FileTamperWindow time.Duration

	FanInThreshold int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig(accessLogPath string) Config {
	return Config{
		AccessLogPath:        accessLogPath,
		FailedLoginWindow:    30 * time.Minute,
		FailedLoginThreshold: 5,
		WarnPercent:          85,
		CritPercent:          95,
		DiskPath:             "/",
		CertWarnDays:         30,
		CertCritDays:         7,
		CriticalFiles: []string{
			"/etc/passwd",
			"/etc/shadow",
			"/etc/sudoers",
			"/etc/ssh/sshd_config",
		},
		FileTamperWindow: 24 * time.Hour,
		FanInThreshold:   20,
	}
}

func (c *Config) applyDefaults() {
	if c.FailedLoginWindow <= 0 {
		c.FailedLoginWindow = 30 * time.Minute
	}
	if c.FailedLoginThreshold <= 0 {
		c.FailedLoginThreshold = 5
	}
	if c.WarnPercent <= 0 {
		c.WarnPercent = 85
	}
	if c.CritPercent <= 0 {
		c.CritPercent = 95
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
	if c.CertWarnDays <= 0 {
		c.CertWarnDays = 30
	}
	if c.CertCritDays <= 0 {
		c.CertCritDays = 7
	}
	if c.FileTamperWindow <= 0 {
		c.FileTamperWindow = 24 * time.Hour
	}
	if c.FanInThreshold <= 0 {
		c.FanInThreshold = 20
	}
}

// Detector runs the threat probes.
type Detector struct {
	cfg     Config
	sampler ResourceSampler
	certs   sysprobe.CertificateInspector
	log     *slog.Logger
}

// New constructs a detector. Sampler and certificate inspector may be nil,
// which disables the corresponding probes.
func New(cfg Config, sampler ResourceSampler, certs sysprobe.CertificateInspector, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	cfg.applyDefaults()
	return &Detector{cfg: cfg, sampler: sampler, certs: certs, log: log}
}

type probe struct {
	name string
	run  func(ctx context.Context) ([]Threat, error)
}

// CheckSecurityThreats runs all probes and returns every detected threat.
func (d *Detector) CheckSecurityThreats(ctx context.Context) []Threat {
	probes := []probe{
		{"failed_logins", d.checkFailedLogins},
		{"resource_usage", d.checkResourceUsage},
		{"ssl_expiry", d.checkCertExpiry},
		{"suspicious_files", d.checkSuspiciousFiles},
		{"network_activity", d.checkNetworkActivity},
	}
	var threats []Threat
	for _, p := range probes {
		found, err := d.runProbe(ctx, p)
		if err != nil {
			d.log.Error("threat probe failed", "probe", p.name, "err", err)
			continue
		}
		threats = append(threats, found...)
	}
	return threats
}

// runProbe isolates a single probe, converting panics into errors so a
// misbehaving probe cannot take down the cycle.
func (d *Detector) runProbe(ctx context.Context, p probe) (found []Threat, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return p.run(ctx)
}
