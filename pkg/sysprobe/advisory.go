package sysprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"watchtower/shared/config"
)

// OSVScannerTool looks up dependency advisories by shelling out to
// osv-scanner. The scanner exits non-zero when it finds vulnerabilities, so
// exit status alone is not treated as failure; parseable output wins.
type OSVScannerTool struct {
	Binary  string
	Timeout time.Duration
}

// NewOSVScannerTool returns the default advisory tool. Binary and timeout can
// be overridden through WATCHTOWER_OSV_BIN and WATCHTOWER_TOOL_TIMEOUT.
func NewOSVScannerTool() *OSVScannerTool {
	return &OSVScannerTool{
		Binary:  config.Get("WATCHTOWER_OSV_BIN", "osv-scanner"),
		Timeout: config.GetDuration("WATCHTOWER_TOOL_TIMEOUT", DefaultToolTimeout),
	}
}

type osvOutput struct {
	Results []struct {
		Packages []struct {
			Package struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"package"`
			Vulnerabilities []struct {
				ID               string `json:"id"`
				Summary          string `json:"summary"`
				DatabaseSpecific struct {
					Severity string `json:"severity"`
				} `json:"database_specific"`
			} `json:"vulnerabilities"`
		} `json:"packages"`
	} `json:"results"`
}

// Audit runs the scanner against a directory and normalizes its JSON output.
func (t *OSVScannerTool) Audit(ctx context.Context, dir string) ([]Advisory, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := t.Binary
	if bin == "" {
		bin = "osv-scanner"
	}
	cmd := exec.CommandContext(ctx, bin, "--format", "json", "-r", dir)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	runErr := cmd.Run()

	if stdout.Len() == 0 {
		if runErr != nil {
			return nil, fmt.Errorf("advisory tool %s: %w", bin, runErr)
		}
		return nil, nil
	}

	var parsed osvOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("advisory tool %s: %w", bin, errors.Join(runErr, err))
		}
		return nil, fmt.Errorf("parse advisory output: %w", err)
	}

	var advisories []Advisory
	for _, res := range parsed.Results {
		for _, pkg := range res.Packages {
			for _, v := range pkg.Vulnerabilities {
				advisories = append(advisories, Advisory{
					ID:       v.ID,
					Package:  pkg.Package.Name,
					Version:  pkg.Package.Version,
					Severity: v.DatabaseSpecific.Severity,
					Summary:  v.Summary,
				})
			}
		}
	}
	return advisories, nil
}
