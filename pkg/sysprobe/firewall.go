package sysprobe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"time"

	"watchtower/shared/config"
)

// IptablesController blocks addresses by inserting DROP rules through the
// iptables CLI. Best-effort: a non-zero exit or missing binary surfaces as an
// error and the block is considered not-applied.
type IptablesController struct {
	Binary  string
	Timeout time.Duration
	log     *slog.Logger
}

// NewIptablesController returns a controller shelling out to iptables. The
// binary can be overridden through WATCHTOWER_IPTABLES_BIN.
func NewIptablesController(log *slog.Logger) *IptablesController {
	if log == nil {
		log = slog.Default()
	}
	return &IptablesController{
		Binary:  config.Get("WATCHTOWER_IPTABLES_BIN", "iptables"),
		Timeout: config.GetDuration("WATCHTOWER_TOOL_TIMEOUT", DefaultToolTimeout),
		log:     log,
	}
}

// BlockIP inserts an INPUT DROP rule for the address.
func (f *IptablesController) BlockIP(ctx context.Context, ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("invalid ip %q", ip)
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := f.Binary
	if bin == "" {
		bin = "iptables"
	}
	cmd := exec.CommandContext(ctx, bin, "-I", "INPUT", "-s", parsed.String(), "-j", "DROP")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables block %s: %w (output: %s)", parsed, err, string(out))
	}
	f.log.Info("firewall rule inserted", "ip", parsed.String())
	return nil
}
