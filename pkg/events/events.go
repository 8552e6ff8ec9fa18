// Package events defines the event model shared by the detector, scanner and
// correlator, the 24h sliding window buffer, and the day-partitioned archive.
package events

import (
	"fmt"
	"time"
)

// Severity represents the severity level of events, threats and alerts.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityWarning  Severity = "WARNING"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// ParseSeverity converts a string to a Severity, defaulting to INFO.
func ParseSeverity(s string) Severity {
	switch s {
	case "CRITICAL", "critical":
		return SeverityCritical
	case "HIGH", "high":
		return SeverityHigh
	case "MEDIUM", "medium":
		return SeverityMedium
	case "WARNING", "warning", "warn":
		return SeverityWarning
	case "LOW", "low":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityWarning:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Well-known event kinds produced by the detector probes and by external
// callers feeding the correlator. The attribute map stays open; the kind set
// is what the built-in rules key on.
const (
	KindAuthFailure       = "authentication_failure"
	KindFileAccess        = "file_access"
	KindSudoUsage         = "sudo_usage"
	KindLargeUpload       = "large_upload"
	KindResourceExhausted = "resource_exhaustion"
	KindCertExpiry        = "certificate_expiry"
	KindFileTampering     = "file_tampering"
	KindNetworkFanIn      = "network_fan_in"
	KindVulnScan          = "vulnerability_scan"
)

// Event is a single timestamped, typed occurrence ingested into the
// correlator. Immutable once created.
type Event struct {
	Kind       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	Severity   Severity       `json:"severity"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// New creates an event stamped with the current UTC time.
func New(kind string, severity Severity, attrs map[string]any) Event {
	return Event{
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		Severity:   severity,
		Attributes: attrs,
	}
}

// Validate checks an event at the ingestion boundary.
func (e Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("event kind is required")
	}
	if len(e.Kind) > 128 {
		return fmt.Errorf("event kind too long: %d chars", len(e.Kind))
	}
	return nil
}

// Attr returns a string attribute, or "" when absent or not a string.
func (e Event) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	if v, ok := e.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// SourceIP returns the source address carried by the event, trying the
// attribute names the probes and external feeders use.
func (e Event) SourceIP() string {
	for _, key := range []string{"source_ip", "client_ip", "ip"} {
		if v := e.Attr(key); v != "" {
			return v
		}
	}
	return ""
}
