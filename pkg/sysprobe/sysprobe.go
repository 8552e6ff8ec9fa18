// Package sysprobe abstracts the external collaborators the monitoring
// subsystem consumes as opaque data sources: TLS certificate inspection, the
// firewall control plane, the container runtime, the dependency advisory tool
// and OS resource sampling. Every implementation degrades gracefully when the
// underlying tool is missing or fails, and every invocation carries an
// explicit timeout.
package sysprobe

import (
	"context"
	"time"
)

// DefaultToolTimeout bounds every external process or daemon invocation. A
// hang in a collaborator must not stall the monitoring loop indefinitely.
const DefaultToolTimeout = 15 * time.Second

// CertInfo is the subset of certificate fields the expiry probe needs.
type CertInfo struct {
	Subject   string    `json:"subject"`
	Issuer    string    `json:"issuer"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	DNSNames  []string  `json:"dns_names,omitempty"`
}

// CertificateInspector resolves a target (host:port or PEM file path) to its
// leaf certificate.
type CertificateInspector interface {
	Inspect(ctx context.Context, target string) (*CertInfo, error)
}

// FirewallController mutates the host firewall to drop traffic from an
// address. Implementations are best-effort; a failure means not-applied.
type FirewallController interface {
	BlockIP(ctx context.Context, ip string) error
}

// HostPort is a container port published on the host.
type HostPort struct {
	HostIP        string `json:"host_ip"`
	HostPort      int    `json:"host_port"`
	ContainerPort int    `json:"container_port"`
	Proto         string `json:"proto"`
}

// ContainerInfo is the posture-relevant view of a running container.
type ContainerInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Image      string     `json:"image"`
	User       string     `json:"user"`
	Privileged bool       `json:"privileged"`
	HostPorts  []HostPort `json:"host_ports,omitempty"`
}

// ContainerInspector lists running containers with their security posture.
type ContainerInspector interface {
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
}

// Advisory is one known vulnerability reported by the dependency audit tool.
type Advisory struct {
	ID       string `json:"id"`
	Package  string `json:"package"`
	Version  string `json:"version"`
	Severity string `json:"severity,omitempty"`
	Summary  string `json:"summary,omitempty"`
	FixedIn  string `json:"fixed_in,omitempty"`
}

// AdvisoryTool looks up known advisories for the dependencies under a
// directory.
type AdvisoryTool interface {
	Audit(ctx context.Context, dir string) ([]Advisory, error)
}
