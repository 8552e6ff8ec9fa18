// Package scanner runs independent vulnerability probes (dependency
// advisories, file permission posture, exposed ports, container privilege)
// and aggregates them into a scored scan report. Probe failures are isolated:
// one failing probe never prevents the others from contributing to the
// summary.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"watchtower/pkg/events"
	"watchtower/pkg/sysprobe"
)

var vulnsFound = prometheus.NewCounterVec(
	prometheus.CounterOpts{Namespace: "watchtower", Subsystem: "scanner", Name: "vulnerabilities_total", Help: "Vulnerabilities found, by severity."},
	[]string{"severity"},
)

func init() {
	_ = prometheus.Register(vulnsFound)
}

// Vulnerability is a detected weakness with severity and remediation.
type Vulnerability struct {
	Kind        string          `json:"type"`
	Severity    events.Severity `json:"severity"`
	Source      string          `json:"source"`
	Description string          `json:"description"`
	Remediation string          `json:"remediation,omitempty"`
}

// Summary buckets the scan by severity; the bucket counts always sum to
// Total.
type Summary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Report is one complete scan, keyed by a fresh scan id.
type Report struct {
	Timestamp       time.Time       `json:"timestamp"`
	ScanID          string          `json:"scan_id"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Summary         Summary         `json:"summary"`
}

// SocketLister is the slice of sysprobe the port probe needs.
type SocketLister interface {
	ListeningSockets() ([]sysprobe.ListenSocket, error)
}

// Config holds scanner settings.
type Config struct {
	OutputDir  string
	ProjectDir string
	// ExpectedModes maps file paths to the permission bits they should
	// carry.
	ExpectedModes map[string]os.FileMode
	// DangerousPorts flagged when bound to all interfaces.
	DangerousPorts []int
}

// DefaultConfig returns the standard posture table.
func DefaultConfig(outputDir string) Config {
	return Config{
		OutputDir:  outputDir,
		ProjectDir: ".",
		ExpectedModes: map[string]os.FileMode{
			"/etc/shadow":          0o600,
			"/etc/gshadow":         0o600,
			"/etc/ssh/sshd_config": 0o600,
			"/etc/sudoers":         0o440,
			"/etc/passwd":          0o644,
		},
		DangerousPorts: []int{22, 23, 3306, 5432, 6379, 27017},
	}
}

// Scanner runs the vulnerability probes. Nil collaborators disable the
// corresponding probes.
type Scanner struct {
	cfg        Config
	containers sysprobe.ContainerInspector
	advisories sysprobe.AdvisoryTool
	sockets    SocketLister
	log        *slog.Logger
}

// New constructs a scanner.
func New(cfg Config, containers sysprobe.ContainerInspector, advisories sysprobe.AdvisoryTool, sockets SocketLister, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.DangerousPorts) == 0 {
		cfg.DangerousPorts = DefaultConfig("").DangerousPorts
	}
	return &Scanner{cfg: cfg, containers: containers, advisories: advisories, sockets: sockets, log: log}
}

type vulnProbe struct {
	name string
	run  func(ctx context.Context) ([]Vulnerability, error)
}

// Scan runs every probe, aggregates the summary and persists the report.
func (s *Scanner) Scan(ctx context.Context) *Report {
	report := &Report{
		Timestamp:       time.Now().UTC(),
		ScanID:          uuid.NewString(),
		Vulnerabilities: []Vulnerability{},
	}
	probes := []vulnProbe{
		{"dependency_advisories", s.scanDependencies},
		{"file_permissions", s.scanFilePermissions},
		{"exposed_ports", s.scanExposedPorts},
		{"root_containers", s.scanRootContainers},
		{"container_config", s.scanContainerConfig},
	}
	for _, p := range probes {
		found, err := s.runProbe(ctx, p)
		if err != nil {
			s.log.Error("vulnerability probe failed", "probe", p.name, "err", err)
			continue
		}
		report.Vulnerabilities = append(report.Vulnerabilities, found...)
	}

	for i := range report.Vulnerabilities {
		report.Vulnerabilities[i].Severity = normalizeSeverity(report.Vulnerabilities[i].Severity)
		vulnsFound.WithLabelValues(string(report.Vulnerabilities[i].Severity)).Inc()
	}
	report.Summary = summarize(report.Vulnerabilities)

	if s.cfg.OutputDir != "" {
		if err := s.persist(report); err != nil {
			s.log.Error("scan report write failed", "scan_id", report.ScanID, "err", err)
		}
	}
	return report
}

func (s *Scanner) runProbe(ctx context.Context, p vulnProbe) (found []Vulnerability, err error) {
	defer func() {
		if r := recover(); r != nil {
			found = nil
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return p.run(ctx)
}

func (s *Scanner) persist(report *Report) error {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create scan dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scan report: %w", err)
	}
	path := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("vulnerability_scan_%s.json", report.ScanID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write scan report: %w", err)
	}
	return nil
}

// normalizeSeverity folds every severity into the four summary buckets.
func normalizeSeverity(sev events.Severity) events.Severity {
	switch sev {
	case events.SeverityCritical, events.SeverityHigh, events.SeverityMedium:
		return sev
	default:
		return events.SeverityLow
	}
}

func summarize(vulns []Vulnerability) Summary {
	sum := Summary{Total: len(vulns)}
	for _, v := range vulns {
		switch v.Severity {
		case events.SeverityCritical:
			sum.Critical++
		case events.SeverityHigh:
			sum.High++
		case events.SeverityMedium:
			sum.Medium++
		default:
			sum.Low++
		}
	}
	return sum
}
