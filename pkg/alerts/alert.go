// Package alerts creates, persists and fans out security alerts. Alert ids
// are deterministic over (type, value, creation second), which deduplicates
// near-simultaneous identical alerts by construction.
package alerts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"watchtower/pkg/events"
)

// Alert is a single persisted alert snapshot.
type Alert struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Kind        string          `json:"type"`
	Value       string          `json:"value"`
	Severity    events.Severity `json:"severity"`
	Description string          `json:"description,omitempty"`
	Details     map[string]any  `json:"details,omitempty"`
}

// NewID derives the 8-hex alert id from type, value and the creation second.
// Two alerts with equal type and value created within the same wall-clock
// second share an id.
func NewID(kind, value string, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", kind, value, at.Unix())))
	return hex.EncodeToString(sum[:])[:8]
}
