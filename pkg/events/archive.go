package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Archive persists raw events into day-partitioned JSONL files, one JSON
// object per line, named events_<YYYY-MM-DD>.jsonl by current UTC date.
type Archive struct {
	mu  sync.Mutex
	dir string
}

// NewArchive creates the archive directory if needed.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Append writes one event to the current day's partition.
func (a *Archive) Append(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.dayPath(time.Now().UTC())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open archive partition: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadDay re-parses every event archived on the given UTC date.
func (a *Archive) ReadDay(day time.Time) ([]Event, error) {
	a.mu.Lock()
	path := a.dayPath(day.UTC())
	a.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open archive partition: %w", err)
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse archived event: %w", err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan archive partition: %w", err)
	}
	return out, nil
}

func (a *Archive) dayPath(day time.Time) string {
	return filepath.Join(a.dir, fmt.Sprintf("events_%s.jsonl", day.Format("2006-01-02")))
}
