package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"watchtower/pkg/events"
)

// execute runs the action bound to a fired correlation. Every failure path is
// contained: an action that cannot be applied is logged and evaluation of the
// remaining rules continues.
func (c *Correlator) execute(ctx context.Context, corr Correlation) {
	switch corr.Action {
	case ActionBlockIP:
		c.blockIP(ctx, corr)
	case ActionImmediateAlert:
		c.immediateAlert(corr)
	case ActionBlockAndAlert:
		c.blockIP(ctx, corr)
		c.immediateAlert(corr)
	default:
		c.log.Info("correlation logged without action", "rule", corr.Rule)
	}
}

// blockIP asks the firewall controller to drop traffic from the triggering
// event's source address. Loopback is never blocked.
func (c *Correlator) blockIP(ctx context.Context, corr Correlation) {
	ip := corr.Event.SourceIP()
	if ip == "" {
		c.log.Warn("block_ip skipped: event carries no source address", "rule", corr.Rule)
		return
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		c.log.Warn("block_ip skipped: unparseable address", "rule", corr.Rule, "ip", ip)
		return
	}
	if parsed.IsLoopback() {
		c.log.Info("block_ip skipped for loopback", "rule", corr.Rule, "ip", ip)
		return
	}
	if c.firewall == nil {
		c.log.Warn("block_ip skipped: no firewall controller configured", "rule", corr.Rule)
		return
	}
	if err := c.firewall.BlockIP(ctx, parsed.String()); err != nil {
		c.log.Error("firewall block failed", "rule", corr.Rule, "ip", ip, "err", err)
		if c.audit != nil {
			c.audit.LogSecurityEvent("firewall_block_failed", map[string]any{
				"rule":  corr.Rule,
				"ip":    ip,
				"error": err.Error(),
			}, events.SeverityHigh)
		}
		return
	}
	c.log.Info("source address blocked", "rule", corr.Rule, "ip", ip)
	if c.audit != nil {
		c.audit.LogSecurityEvent("ip_blocked", map[string]any{
			"rule": corr.Rule,
			"ip":   ip,
		}, corr.Severity)
	}
}

// immediateAlert writes a dedicated critical-alert record into the siem
// directory, keyed by the current unix timestamp.
func (c *Correlator) immediateAlert(corr Correlation) {
	record := struct {
		Timestamp   time.Time       `json:"timestamp"`
		Correlation string          `json:"correlation_id"`
		Rule        string          `json:"rule"`
		Severity    events.Severity `json:"severity"`
		Event       events.Event    `json:"triggering_event"`
	}{
		Timestamp:   corr.Timestamp,
		Correlation: corr.ID,
		Rule:        corr.Rule,
		Severity:    corr.Severity,
		Event:       corr.Event,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		c.log.Error("critical alert marshal failed", "rule", corr.Rule, "err", err)
		return
	}
	path := filepath.Join(c.siemDir, fmt.Sprintf("critical_alert_%d.json", corr.Timestamp.Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.log.Error("critical alert write failed", "rule", corr.Rule, "err", err)
		return
	}
	c.log.Warn("critical alert recorded", "rule", corr.Rule, "path", path)
}
