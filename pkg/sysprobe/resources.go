package sysprobe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// TCP connection states from include/net/tcp_states.h.
const (
	tcpEstablished = 1
	tcpListen      = 10
)

// ListenSocket is a TCP socket in LISTEN state.
type ListenSocket struct {
	Addr net.IP
	Port int
}

// ResourceSampler reads CPU, memory and network figures from procfs and disk
// usage from statfs.
type ResourceSampler struct {
	fs procfs.FS
	// cpuSampleGap separates the two /proc/stat reads a utilization figure
	// needs.
	cpuSampleGap time.Duration
}

// NewResourceSampler mounts the default /proc.
func NewResourceSampler() (*ResourceSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ResourceSampler{fs: fs, cpuSampleGap: 200 * time.Millisecond}, nil
}

// CPUPercent returns overall CPU utilization over a short sampling gap.
func (s *ResourceSampler) CPUPercent(ctx context.Context) (float64, error) {
	first, err := s.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("read /proc/stat: %w", err)
	}
	select {
	case <-time.After(s.cpuSampleGap):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	second, err := s.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("read /proc/stat: %w", err)
	}

	idle := cpuIdle(second.CPUTotal) - cpuIdle(first.CPUTotal)
	total := cpuTotal(second.CPUTotal) - cpuTotal(first.CPUTotal)
	if total <= 0 {
		return 0, nil
	}
	return 100 * (1 - idle/total), nil
}

// MemoryPercent returns used memory as a percentage of total.
func (s *ResourceSampler) MemoryPercent() (float64, error) {
	mi, err := s.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read /proc/meminfo: %w", err)
	}
	if mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0, fmt.Errorf("meminfo missing MemTotal/MemAvailable")
	}
	used := float64(*mi.MemTotal-*mi.MemAvailable) / float64(*mi.MemTotal)
	return 100 * used, nil
}

// DiskPercent returns used space on the filesystem holding path.
func (s *ResourceSampler) DiskPercent(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	used := float64(st.Blocks-st.Bavail) / float64(st.Blocks)
	return 100 * used, nil
}

// RemoteConnections counts established TCP connections per remote address,
// across IPv4 and IPv6.
func (s *ResourceSampler) RemoteConnections() (map[string]int, error) {
	counts := make(map[string]int)
	tcp4, err := s.fs.NetTCP()
	if err != nil {
		return nil, fmt.Errorf("read /proc/net/tcp: %w", err)
	}
	tally(counts, tcp4)
	if tcp6, err := s.fs.NetTCP6(); err == nil {
		tally(counts, tcp6)
	}
	return counts, nil
}

// ListeningSockets returns TCP sockets in LISTEN state.
func (s *ResourceSampler) ListeningSockets() ([]ListenSocket, error) {
	var out []ListenSocket
	tcp4, err := s.fs.NetTCP()
	if err != nil {
		return nil, fmt.Errorf("read /proc/net/tcp: %w", err)
	}
	for _, line := range tcp4 {
		if line.St == tcpListen {
			out = append(out, ListenSocket{Addr: line.LocalAddr, Port: int(line.LocalPort)})
		}
	}
	if tcp6, err := s.fs.NetTCP6(); err == nil {
		for _, line := range tcp6 {
			if line.St == tcpListen {
				out = append(out, ListenSocket{Addr: line.LocalAddr, Port: int(line.LocalPort)})
			}
		}
	}
	return out, nil
}

func tally(counts map[string]int, lines procfs.NetTCP) {
	for _, line := range lines {
		if line.St != tcpEstablished {
			continue
		}
		if line.RemAddr == nil || line.RemAddr.IsLoopback() || line.RemAddr.IsUnspecified() {
			continue
		}
		counts[line.RemAddr.String()]++
	}
}

func cpuIdle(c procfs.CPUStat) float64 {
	return c.Idle + c.Iowait
}

func cpuTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}
