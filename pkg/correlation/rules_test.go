package correlation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/pkg/events"
)

func TestDefaultRulesValidate(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 3)
	for _, r := range rules {
		assert.NoError(t, r.Validate(), r.Name)
	}
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		Name:       "test",
		Conditions: []Condition{{EventKind: events.KindAuthFailure, Count: 2}},
		Severity:   events.SeverityHigh,
		Action:     ActionBlockIP,
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Name = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Conditions = nil
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Conditions = []Condition{{EventKind: ""}}
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Severity = "SEVERE"
	assert.Error(t, bad.Validate())

	bad = valid
	bad.Action = "page_everyone"
	assert.Error(t, bad.Validate())
}

func TestConditionTimeframeDefault(t *testing.T) {
	assert.Equal(t, DefaultTimeframe, Condition{EventKind: "x"}.Timeframe())
	assert.Equal(t, 90*time.Second, Condition{EventKind: "x", TimeframeSec: 90}.Timeframe())
}

func TestRefireWindowIsWidestTimeframe(t *testing.T) {
	r := Rule{
		Name: "wide",
		Conditions: []Condition{
			{EventKind: "a", TimeframeSec: 60},
			{EventKind: "b", TimeframeSec: 600},
		},
		Severity: events.SeverityLow,
	}
	assert.Equal(t, 600*time.Second, r.refireWindow())

	narrow := Rule{
		Name:       "narrow",
		Conditions: []Condition{{EventKind: "a", TimeframeSec: 10}},
		Severity:   events.SeverityLow,
	}
	assert.Equal(t, DefaultTimeframe, narrow.refireWindow())
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	one := `
name: brute-force
description: repeated failures
conditions:
  - event_type: authentication_failure
    count: 10
    timeframe: 600
severity: HIGH
action: block_ip
`
	many := `
- name: sudo-burst
  conditions:
    - event_type: sudo_usage
      count: 5
      timeframe: 120
  severity: MEDIUM
- name: bad-rule-no-conditions
  severity: LOW
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-brute.yaml"), []byte(one), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-bursts.yml"), []byte(many), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	rules, err := LoadDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, rules, 2, "invalid rules are skipped, non-yaml files ignored")

	byName := map[string]Rule{}
	for _, r := range rules {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "brute-force")
	assert.Equal(t, 10, byName["brute-force"].Conditions[0].Count)
	assert.Equal(t, ActionBlockIP, byName["brute-force"].Action)
	require.Contains(t, byName, "sudo-burst")
	assert.Equal(t, events.SeverityMedium, byName["sudo-burst"].Severity)
}

func TestLoadDirDuplicateNamesLastWins(t *testing.T) {
	dir := t.TempDir()
	first := `
name: dup
conditions:
  - event_type: file_access
    count: 1
severity: LOW
`
	second := `
name: dup
conditions:
  - event_type: file_access
    count: 9
severity: HIGH
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(first), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(second), 0o644))

	rules, err := LoadDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 9, rules[0].Conditions[0].Count)
	assert.Equal(t, events.SeverityHigh, rules[0].Severity)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}
