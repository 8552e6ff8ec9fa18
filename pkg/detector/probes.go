package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"watchtower/pkg/audit"
	"watchtower/pkg/events"
)

// checkFailedLogins counts recent access-log entries with status 401/403.
func (d *Detector) checkFailedLogins(context.Context) ([]Threat, error) {
	if d.cfg.AccessLogPath == "" {
		return nil, nil
	}
	f, err := os.Open(d.cfg.AccessLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open access log: %w", err)
	}
	defer f.Close()

	cutoff := time.Now().UTC().Add(-d.cfg.FailedLoginWindow)
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry audit.AccessEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Status != 401 && entry.Status != 403 {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan access log: %w", err)
	}
	if count < d.cfg.FailedLoginThreshold {
		return nil, nil
	}
	return []Threat{{
		Kind:        events.KindAuthFailure,
		Severity:    events.SeverityHigh,
		Description: fmt.Sprintf("%d failed logins in the last %s", count, d.cfg.FailedLoginWindow),
		Value:       "failed_logins",
		Details: map[string]any{
			"count":          count,
			"window_seconds": int(d.cfg.FailedLoginWindow.Seconds()),
		},
	}}, nil
}

// checkResourceUsage samples CPU, memory and disk against the warning and
// critical thresholds.
func (d *Detector) checkResourceUsage(ctx context.Context) ([]Threat, error) {
	if d.sampler == nil {
		return nil, nil
	}
	var threats []Threat
	add := func(resource string, pct float64) {
		severity := events.Severity("")
		switch {
		case pct > d.cfg.CritPercent:
			severity = events.SeverityCritical
		case pct > d.cfg.WarnPercent:
			severity = events.SeverityWarning
		default:
			return
		}
		threats = append(threats, Threat{
			Kind:        events.KindResourceExhausted,
			Severity:    severity,
			Description: fmt.Sprintf("%s usage at %.1f%%", resource, pct),
			Value:       resource,
			Details:     map[string]any{"resource": resource, "percent": pct},
		})
	}

	cpu, err := d.sampler.CPUPercent(ctx)
	if err != nil {
		return nil, fmt.Errorf("cpu sample: %w", err)
	}
	add("cpu", cpu)

	mem, err := d.sampler.MemoryPercent()
	if err != nil {
		return nil, fmt.Errorf("memory sample: %w", err)
	}
	add("memory", mem)

	disk, err := d.sampler.DiskPercent(d.cfg.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("disk sample: %w", err)
	}
	add("disk", disk)

	return threats, nil
}

// checkCertExpiry inspects each configured certificate target and flags
// approaching expiry.
func (d *Detector) checkCertExpiry(ctx context.Context) ([]Threat, error) {
	if d.certs == nil || len(d.cfg.CertTargets) == 0 {
		return nil, nil
	}
	var threats []Threat
	for _, target := range d.cfg.CertTargets {
		info, err := d.certs.Inspect(ctx, target)
		if err != nil {
			d.log.Warn("certificate inspection failed", "target", target, "err", err)
			continue
		}
		daysLeft := int(time.Until(info.NotAfter).Hours() / 24)
		var severity events.Severity
		switch {
		case daysLeft < d.cfg.CertCritDays:
			severity = events.SeverityCritical
		case daysLeft < d.cfg.CertWarnDays:
			severity = events.SeverityWarning
		default:
			continue
		}
		threats = append(threats, Threat{
			Kind:        events.KindCertExpiry,
			Severity:    severity,
			Description: fmt.Sprintf("certificate for %s expires in %d days", target, daysLeft),
			Value:       target,
			Details: map[string]any{
				"target":    target,
				"subject":   info.Subject,
				"not_after": info.NotAfter.UTC().Format(time.RFC3339),
				"days_left": daysLeft,
			},
		})
	}
	return threats, nil
}

// checkSuspiciousFiles flags critical config files modified recently.
func (d *Detector) checkSuspiciousFiles(context.Context) ([]Threat, error) {
	var threats []Threat
	cutoff := time.Now().Add(-d.cfg.FileTamperWindow)
	for _, path := range d.cfg.CriticalFiles {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		if st.ModTime().Before(cutoff) {
			continue
		}
		threats = append(threats, Threat{
			Kind:        events.KindFileTampering,
			Severity:    events.SeverityWarning,
			Description: fmt.Sprintf("critical file %s modified at %s", path, st.ModTime().UTC().Format(time.RFC3339)),
			Value:       path,
			Details: map[string]any{
				"path":     path,
				"mod_time": st.ModTime().UTC().Format(time.RFC3339),
			},
		})
	}
	return threats, nil
}

// checkNetworkActivity counts established connections per remote address and
// flags excessive fan-in from a single source.
func (d *Detector) checkNetworkActivity(context.Context) ([]Threat, error) {
	if d.sampler == nil {
		return nil, nil
	}
	counts, err := d.sampler.RemoteConnections()
	if err != nil {
		return nil, fmt.Errorf("connection sample: %w", err)
	}
	var threats []Threat
	for addr, n := range counts {
		if n <= d.cfg.FanInThreshold {
			continue
		}
		threats = append(threats, Threat{
			Kind:        events.KindNetworkFanIn,
			Severity:    events.SeverityWarning,
			Description: fmt.Sprintf("%d active connections from %s", n, addr),
			Value:       addr,
			Details: map[string]any{
				"source_ip":   addr,
				"connections": n,
			},
		})
	}
	return threats, nil
}
