package scanner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"watchtower/pkg/events"
)

// scanDependencies looks up known advisories for the project's dependencies.
func (s *Scanner) scanDependencies(ctx context.Context) ([]Vulnerability, error) {
	if s.advisories == nil {
		return nil, nil
	}
	dir := s.cfg.ProjectDir
	if dir == "" {
		dir = "."
	}
	advisories, err := s.advisories.Audit(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("dependency audit: %w", err)
	}
	var vulns []Vulnerability
	for _, adv := range advisories {
		sev := events.ParseSeverity(adv.Severity)
		if sev == events.SeverityInfo {
			sev = events.SeverityMedium
		}
		desc := fmt.Sprintf("%s in %s %s", adv.ID, adv.Package, adv.Version)
		if adv.Summary != "" {
			desc += ": " + adv.Summary
		}
		remediation := fmt.Sprintf("upgrade %s", adv.Package)
		if adv.FixedIn != "" {
			remediation = fmt.Sprintf("upgrade %s to %s", adv.Package, adv.FixedIn)
		}
		vulns = append(vulns, Vulnerability{
			Kind:        "dependency_vulnerability",
			Severity:    sev,
			Source:      "dependency_audit",
			Description: desc,
			Remediation: remediation,
		})
	}
	return vulns, nil
}

// scanFilePermissions compares each sensitive file's mode against the
// expected-mode table. Extra permission bits are a finding; a stricter mode
// than expected is not.
func (s *Scanner) scanFilePermissions(context.Context) ([]Vulnerability, error) {
	var vulns []Vulnerability
	for path, expected := range s.cfg.ExpectedModes {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		actual := st.Mode().Perm()
		if actual&^expected == 0 {
			continue
		}
		severity := events.SeverityHigh
		if actual&0o002 != 0 {
			severity = events.SeverityCritical
		}
		vulns = append(vulns, Vulnerability{
			Kind:        "file_permissions",
			Severity:    severity,
			Source:      path,
			Description: fmt.Sprintf("%s has mode %o, expected %o", path, actual, expected),
			Remediation: fmt.Sprintf("chmod %o %s", expected, path),
		})
	}
	return vulns, nil
}

// scanExposedPorts flags dangerous ports listening on all interfaces.
func (s *Scanner) scanExposedPorts(context.Context) ([]Vulnerability, error) {
	if s.sockets == nil {
		return nil, nil
	}
	sockets, err := s.sockets.ListeningSockets()
	if err != nil {
		return nil, fmt.Errorf("list sockets: %w", err)
	}
	dangerous := make(map[int]bool, len(s.cfg.DangerousPorts))
	for _, p := range s.cfg.DangerousPorts {
		dangerous[p] = true
	}
	seen := make(map[int]bool)
	var vulns []Vulnerability
	for _, sock := range sockets {
		if !dangerous[sock.Port] || seen[sock.Port] {
			continue
		}
		if sock.Addr != nil && !sock.Addr.IsUnspecified() {
			continue
		}
		seen[sock.Port] = true
		severity := events.SeverityHigh
		if sock.Port == 23 {
			// telnet has no business listening at all
			severity = events.SeverityCritical
		}
		vulns = append(vulns, Vulnerability{
			Kind:        "exposed_port",
			Severity:    severity,
			Source:      fmt.Sprintf("port %d", sock.Port),
			Description: fmt.Sprintf("port %d is bound to all interfaces", sock.Port),
			Remediation: fmt.Sprintf("bind port %d to a specific interface or restrict it with firewall rules", sock.Port),
		})
	}
	return vulns, nil
}

// scanRootContainers flags containers running as root.
func (s *Scanner) scanRootContainers(ctx context.Context) ([]Vulnerability, error) {
	if s.containers == nil {
		return nil, nil
	}
	containers, err := s.containers.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var vulns []Vulnerability
	for _, c := range containers {
		user := strings.SplitN(c.User, ":", 2)[0]
		if user != "" && user != "root" && user != "0" {
			continue
		}
		vulns = append(vulns, Vulnerability{
			Kind:        "container_root_user",
			Severity:    events.SeverityHigh,
			Source:      c.Name,
			Description: fmt.Sprintf("container %s (%s) runs as root", c.Name, c.Image),
			Remediation: fmt.Sprintf("set a non-root USER for %s", c.Image),
		})
	}
	return vulns, nil
}

// scanContainerConfig flags privileged containers and dangerous ports
// published on all host interfaces.
func (s *Scanner) scanContainerConfig(ctx context.Context) ([]Vulnerability, error) {
	if s.containers == nil {
		return nil, nil
	}
	containers, err := s.containers.ListContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	dangerous := make(map[int]bool, len(s.cfg.DangerousPorts))
	for _, p := range s.cfg.DangerousPorts {
		dangerous[p] = true
	}
	var vulns []Vulnerability
	for _, c := range containers {
		if c.Privileged {
			vulns = append(vulns, Vulnerability{
				Kind:        "container_privileged",
				Severity:    events.SeverityCritical,
				Source:      c.Name,
				Description: fmt.Sprintf("container %s runs privileged", c.Name),
				Remediation: fmt.Sprintf("drop --privileged from %s and grant specific capabilities instead", c.Name),
			})
		}
		for _, hp := range c.HostPorts {
			if !dangerous[hp.HostPort] {
				continue
			}
			if hp.HostIP != "" && hp.HostIP != "0.0.0.0" && hp.HostIP != "::" {
				continue
			}
			vulns = append(vulns, Vulnerability{
				Kind:        "container_exposed_port",
				Severity:    events.SeverityMedium,
				Source:      c.Name,
				Description: fmt.Sprintf("container %s publishes port %d on all interfaces", c.Name, hp.HostPort),
				Remediation: fmt.Sprintf("publish port %d on a specific host address", hp.HostPort),
			})
		}
	}
	return vulns, nil
}
