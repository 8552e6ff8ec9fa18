package correlation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"watchtower/pkg/events"
)

// DefaultRules returns the built-in rule set used when no rules directory is
// configured or when it yields nothing valid.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "repeated-auth-failure",
			Description: "Five or more authentication failures inside five minutes",
			Conditions: []Condition{
				{EventKind: events.KindAuthFailure, Count: 5, TimeframeSec: 300},
			},
			Severity: events.SeverityHigh,
			Action:   ActionBlockIP,
		},
		{
			Name:        "privilege-escalation",
			Description: "Sensitive file access combined with repeated sudo usage",
			Conditions: []Condition{
				{EventKind: events.KindFileAccess, Path: "/etc/passwd", TimeframeSec: 60},
				{EventKind: events.KindSudoUsage, Count: 3, TimeframeSec: 60},
			},
			Severity: events.SeverityCritical,
			Action:   ActionImmediateAlert,
		},
		{
			Name:        "data-exfiltration",
			Description: "Heavy file access followed by a large outbound upload",
			Conditions: []Condition{
				{EventKind: events.KindFileAccess, Count: 10, TimeframeSec: 120},
				{EventKind: events.KindLargeUpload, Count: 1, TimeframeSec: 120},
			},
			Severity: events.SeverityCritical,
			Action:   ActionBlockAndAlert,
		},
	}
}

// LoadDir reads every .yaml/.yml file under dir, each holding one rule or a
// list of rules. Invalid rules are skipped with a warning; duplicate names
// resolve to the last file in lexical order.
func LoadDir(dir string, log *slog.Logger) ([]Rule, error) {
	if log == nil {
		log = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	byName := make(map[string]Rule)
	var order []string
	for _, file := range files {
		rules, err := loadFile(file)
		if err != nil {
			log.Warn("rule file skipped", "file", file, "err", err)
			continue
		}
		for _, r := range rules {
			if err := r.Validate(); err != nil {
				log.Warn("invalid rule skipped", "file", file, "err", err)
				continue
			}
			if _, seen := byName[r.Name]; !seen {
				order = append(order, r.Name)
			}
			byName[r.Name] = r
		}
	}

	out := make([]Rule, 0, len(byName))
	for _, name := range order {
		out = append(out, byName[name])
	}
	log.Info("correlation rules loaded", "dir", dir, "count", len(out))
	return out, nil
}

func loadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var many []Rule
	if err := yaml.Unmarshal(data, &many); err == nil && len(many) > 0 {
		return many, nil
	}
	var one Rule
	if err := yaml.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse rule yaml: %w", err)
	}
	if one.Name == "" {
		return nil, fmt.Errorf("no rules in %s", path)
	}
	return []Rule{one}, nil
}
