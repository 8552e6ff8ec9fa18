// Package correlation ingests typed events into a 24h sliding buffer and
// evaluates static multi-condition rules against it, firing correlations and
// their bound response actions.
package correlation

import (
	"fmt"
	"time"

	"watchtower/pkg/events"
)

// Actions bound to a fired rule. Anything else degrades to log-only.
const (
	ActionBlockIP        = "block_ip"
	ActionImmediateAlert = "immediate_alert"
	ActionBlockAndAlert  = "block_and_alert"
)

// DefaultTimeframe applies when a condition omits its timeframe.
const DefaultTimeframe = 300 * time.Second

// Condition is a pure predicate over the event buffer: events of EventKind
// within [now-timeframe, now], optionally requiring a minimum count or a
// matching path attribute.
type Condition struct {
	EventKind    string `yaml:"event_type" json:"event_type"`
	Count        int    `yaml:"count,omitempty" json:"count,omitempty"`
	TimeframeSec int    `yaml:"timeframe,omitempty" json:"timeframe,omitempty"`
	Path         string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Timeframe returns the condition window, defaulting to 300s.
func (c Condition) Timeframe() time.Duration {
	if c.TimeframeSec <= 0 {
		return DefaultTimeframe
	}
	return time.Duration(c.TimeframeSec) * time.Second
}

// Rule is a static correlation rule: a strict conjunction of conditions with
// a severity and a bound action. Loaded once at startup, never mutated.
type Rule struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Conditions  []Condition     `yaml:"conditions" json:"conditions"`
	Severity    events.Severity `yaml:"severity" json:"severity"`
	Action      string          `yaml:"action,omitempty" json:"action,omitempty"`
}

// Validate rejects rules the evaluator cannot honor.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %q: at least one condition is required", r.Name)
	}
	for i, c := range r.Conditions {
		if c.EventKind == "" {
			return fmt.Errorf("rule %q: condition %d: event_type is required", r.Name, i)
		}
		if c.Count < 0 {
			return fmt.Errorf("rule %q: condition %d: count must be non-negative", r.Name, i)
		}
	}
	switch r.Severity {
	case events.SeverityCritical, events.SeverityHigh, events.SeverityMedium,
		events.SeverityWarning, events.SeverityLow, events.SeverityInfo:
	default:
		return fmt.Errorf("rule %q: invalid severity %q", r.Name, r.Severity)
	}
	switch r.Action {
	case "", ActionBlockIP, ActionImmediateAlert, ActionBlockAndAlert:
	default:
		return fmt.Errorf("rule %q: unknown action %q", r.Name, r.Action)
	}
	return nil
}

// refireWindow is the widest condition timeframe; a rule that fired is not
// re-evaluated to fire again until the window has passed, so one burst of
// events produces one correlation.
func (r Rule) refireWindow() time.Duration {
	max := DefaultTimeframe
	for _, c := range r.Conditions {
		if tf := c.Timeframe(); tf > max {
			max = tf
		}
	}
	return max
}

// Correlation records a detected full match of a rule's condition set.
type Correlation struct {
	ID        string          `json:"id"`
	Rule      string          `json:"rule"`
	Severity  events.Severity `json:"severity"`
	Action    string          `json:"action,omitempty"`
	Event     events.Event    `json:"triggering_event"`
	Timestamp time.Time       `json:"timestamp"`
}
