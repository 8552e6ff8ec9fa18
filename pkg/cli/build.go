package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/viper"

	"watchtower/pkg/alerts"
	"watchtower/pkg/audit"
	"watchtower/pkg/correlation"
	"watchtower/pkg/detector"
	"watchtower/pkg/scanner"
	"watchtower/pkg/sysprobe"
	"watchtower/shared/eventbus"
)

// components is everything the commands assemble from configuration.
type components struct {
	audit      *audit.Logger
	bus        *eventbus.Bus
	alerts     *alerts.Manager
	correlator *correlation.Correlator
	detector   *detector.Detector
	scanner    *scanner.Scanner
}

func (c *components) close() {
	if c.bus != nil {
		c.bus.Close()
	}
	if c.audit != nil {
		c.audit.Close()
	}
}

// buildComponents wires the subsystem. External collaborators that cannot be
// reached (no Docker daemon, no /proc) disable their probes instead of
// failing startup.
func buildComponents(log *slog.Logger) (*components, error) {
	dataDir := viper.GetString("data-dir")
	auditDir := filepath.Join(dataDir, "audit")
	siemDir := filepath.Join(dataDir, "siem")
	alertsDir := filepath.Join(dataDir, "alerts")
	vulnDir := filepath.Join(dataDir, "vulnerabilities")

	auditLog, err := audit.New(auditDir, log)
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}

	bus := eventbus.NewBus(256)

	mgr, err := alerts.NewManager(alertsDir, auditLog, bus, alerts.ChannelConfig{
		Email:  viper.GetBool("channels.email"),
		Slack:  viper.GetBool("channels.slack"),
		Syslog: viper.GetBool("channels.syslog"),
	}, log)
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("alert manager: %w", err)
	}

	rules := correlation.DefaultRules()
	if dir := viper.GetString("rules-dir"); dir != "" {
		loaded, err := correlation.LoadDir(dir, log)
		if err != nil {
			log.Warn("rules directory unusable, using built-in rules", "dir", dir, "err", err)
		} else if len(loaded) > 0 {
			rules = loaded
		}
	}

	var firewall sysprobe.FirewallController
	if viper.GetBool("firewall.enabled") {
		firewall = sysprobe.NewIptablesController(log)
	}

	corr, err := correlation.New(correlation.Config{
		SiemDir:  siemDir,
		Rules:    rules,
		Audit:    auditLog,
		Firewall: firewall,
		Bus:      bus,
		Logger:   log,
	})
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("correlator: %w", err)
	}

	var sampler detector.ResourceSampler
	var sockets scanner.SocketLister
	if rs, err := sysprobe.NewResourceSampler(); err != nil {
		log.Warn("resource sampling unavailable", "err", err)
	} else {
		sampler = rs
		sockets = rs
	}

	detCfg := detector.DefaultConfig(filepath.Join(auditDir, audit.AccessLogFile))
	if targets := viper.GetStringSlice("cert-targets"); len(targets) > 0 {
		detCfg.CertTargets = targets
	}
	if files := viper.GetStringSlice("critical-files"); len(files) > 0 {
		detCfg.CriticalFiles = files
	}
	det := detector.New(detCfg, sampler, sysprobe.NewX509Inspector(), log)

	var containers sysprobe.ContainerInspector
	if di, err := sysprobe.NewDockerInspector(); err != nil {
		log.Warn("container inspection unavailable", "err", err)
	} else {
		containers = di
	}

	scanCfg := scanner.DefaultConfig(vulnDir)
	if dir := viper.GetString("project-dir"); dir != "" {
		scanCfg.ProjectDir = dir
	}
	scn := scanner.New(scanCfg, containers, sysprobe.NewOSVScannerTool(), sockets, log)

	return &components{
		audit:      auditLog,
		bus:        bus,
		alerts:     mgr,
		correlator: corr,
		detector:   det,
		scanner:    scn,
	}, nil
}
