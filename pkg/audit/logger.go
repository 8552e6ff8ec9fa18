// Package audit persists structured events into four category-specific
// append-only logs: security, access, system and database. Entries are one
// JSON object per line with an ISO-8601 UTC timestamp. Rotation and integrity
// protection are delegated to the platform.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"watchtower/pkg/events"
)

// Category names the four audit streams.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryAccess   Category = "access"
	CategorySystem   Category = "system"
	CategoryDatabase Category = "database"
)

// File names under the audit directory, one per category.
const (
	SecurityLogFile = "security_audit.log"
	AccessLogFile   = "access_audit.log"
	SystemLogFile   = "system_audit.log"
	DatabaseLogFile = "database_audit.log"
)

// SecurityEntry is one line of the security audit log.
type SecurityEntry struct {
	Timestamp string          `json:"timestamp"`
	Category  Category        `json:"category"`
	EventType string          `json:"event_type"`
	Severity  events.Severity `json:"severity"`
	Details   map[string]any  `json:"details,omitempty"`
}

// AccessEntry is one line of the access audit log.
type AccessEntry struct {
	Timestamp string         `json:"timestamp"`
	Category  Category       `json:"category"`
	Endpoint  string         `json:"endpoint"`
	User      string         `json:"user,omitempty"`
	SourceIP  string         `json:"source_ip,omitempty"`
	Status    int            `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
}

// SystemEntry is one line of the system audit log.
type SystemEntry struct {
	Timestamp string         `json:"timestamp"`
	Category  Category       `json:"category"`
	Component string         `json:"component"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
}

// DatabaseEntry is one line of the database audit log.
type DatabaseEntry struct {
	Timestamp string         `json:"timestamp"`
	Category  Category       `json:"category"`
	Operation string         `json:"operation"`
	Table     string         `json:"table"`
	User      string         `json:"user,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger writes the four audit streams. A failed write is reported through
// the component logger and never aborts the caller.
type Logger struct {
	mu    sync.Mutex
	dir   string
	files map[Category]*os.File
	log   *slog.Logger
}

// New opens the four append-only streams under dir.
func New(dir string, log *slog.Logger) (*Logger, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	names := map[Category]string{
		CategorySecurity: SecurityLogFile,
		CategoryAccess:   AccessLogFile,
		CategorySystem:   SystemLogFile,
		CategoryDatabase: DatabaseLogFile,
	}
	files := make(map[Category]*os.File, len(names))
	for cat, name := range names {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return nil, fmt.Errorf("open %s audit log: %w", cat, err)
		}
		files[cat] = f
	}
	return &Logger{dir: dir, files: files, log: log}, nil
}

// Dir returns the audit directory.
func (l *Logger) Dir() string { return l.dir }

// Close closes all four streams.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for cat, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s audit log: %w", cat, err)
		}
	}
	return firstErr
}

// LogSecurityEvent records a security event at the given severity.
func (l *Logger) LogSecurityEvent(eventType string, details map[string]any, severity events.Severity) {
	l.write(CategorySecurity, SecurityEntry{
		Timestamp: now(),
		Category:  CategorySecurity,
		EventType: eventType,
		Severity:  severity,
		Details:   details,
	})
}

// LogAccessEvent records an endpoint access.
func (l *Logger) LogAccessEvent(endpoint, user, sourceIP string, status int, details map[string]any) {
	l.write(CategoryAccess, AccessEntry{
		Timestamp: now(),
		Category:  CategoryAccess,
		Endpoint:  endpoint,
		User:      user,
		SourceIP:  sourceIP,
		Status:    status,
		Details:   details,
	})
}

// LogSystemEvent records a component lifecycle or health event.
func (l *Logger) LogSystemEvent(component, event string, details map[string]any) {
	l.write(CategorySystem, SystemEntry{
		Timestamp: now(),
		Category:  CategorySystem,
		Component: component,
		Event:     event,
		Details:   details,
	})
}

// LogDatabaseEvent records a database operation.
func (l *Logger) LogDatabaseEvent(operation, table, user string, details map[string]any) {
	l.write(CategoryDatabase, DatabaseEntry{
		Timestamp: now(),
		Category:  CategoryDatabase,
		Operation: operation,
		Table:     table,
		User:      user,
		Details:   details,
	})
}

func (l *Logger) write(cat Category, entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		l.log.Error("audit entry marshal failed", "category", cat, "err", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.files[cat].Write(append(data, '\n')); err != nil {
		l.log.Error("audit write failed", "category", cat, "err", err)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
