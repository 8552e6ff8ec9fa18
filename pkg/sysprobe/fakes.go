package sysprobe

import (
	"context"
	"fmt"
	"sync"
)

// In-memory fakes for the collaborator interfaces. Exported so that detector,
// scanner and correlation tests can share them.

// FakeCertInspector serves canned certificates by target.
type FakeCertInspector struct {
	Certs map[string]*CertInfo
	Err   error
}

func (f *FakeCertInspector) Inspect(_ context.Context, target string) (*CertInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	info, ok := f.Certs[target]
	if !ok {
		return nil, fmt.Errorf("no certificate for %q", target)
	}
	return info, nil
}

// FakeFirewall records the addresses it was asked to block.
type FakeFirewall struct {
	mu      sync.Mutex
	Blocked []string
	Err     error
}

func (f *FakeFirewall) BlockIP(_ context.Context, ip string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Blocked = append(f.Blocked, ip)
	return nil
}

// BlockedIPs returns a copy of the recorded addresses.
func (f *FakeFirewall) BlockedIPs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Blocked))
	copy(out, f.Blocked)
	return out
}

// FakeContainerInspector serves a canned container list.
type FakeContainerInspector struct {
	Containers []ContainerInfo
	Err        error
}

func (f *FakeContainerInspector) ListContainers(context.Context) ([]ContainerInfo, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Containers, nil
}

// FakeAdvisoryTool serves canned advisories.
type FakeAdvisoryTool struct {
	Advisories []Advisory
	Err        error
}

func (f *FakeAdvisoryTool) Audit(context.Context, string) ([]Advisory, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Advisories, nil
}
