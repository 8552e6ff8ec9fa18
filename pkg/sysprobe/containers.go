package sysprobe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerInspector lists running containers through the Docker daemon API.
type DockerInspector struct {
	cli     *client.Client
	Timeout time.Duration
}

// NewDockerInspector connects to the daemon using the standard environment
// (DOCKER_HOST etc). The connection is lazy; a missing daemon shows up on the
// first ListContainers call, not here.
func NewDockerInspector() (*DockerInspector, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerInspector{cli: cli, Timeout: DefaultToolTimeout}, nil
}

// ListContainers returns the security posture of every running container.
func (d *DockerInspector) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		detail, err := d.cli.ContainerInspect(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("inspect container %s: %w", shortID(s.ID), err)
		}
		info := ContainerInfo{
			ID:    shortID(s.ID),
			Image: s.Image,
		}
		if len(s.Names) > 0 {
			info.Name = strings.TrimPrefix(s.Names[0], "/")
		}
		if detail.Config != nil {
			info.User = detail.Config.User
		}
		if detail.HostConfig != nil {
			info.Privileged = detail.HostConfig.Privileged
			info.HostPorts = hostPorts(detail.HostConfig.PortBindings)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func hostPorts(bindings nat.PortMap) []HostPort {
	var out []HostPort
	for port, binds := range bindings {
		cport, err := strconv.Atoi(port.Port())
		if err != nil {
			continue
		}
		for _, b := range binds {
			hport, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			out = append(out, HostPort{
				HostIP:        b.HostIP,
				HostPort:      hport,
				ContainerPort: cport,
				Proto:         port.Proto(),
			})
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
