package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event kinds written by the recording tools.
const (
	EventResync     = "resync"
	EventTruncated  = "truncated"
	EventStaleIndex = "stale-index"
	EventReindex    = "reindex"
)

// Event is one line of a recording's event log.
type Event struct {
	Kind   string    `json:"kind"`
	File   string    `json:"file,omitempty"`
	Offset int64     `json:"offset,omitempty"`
	Skip   int64     `json:"skip,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Ts     time.Time `json:"ts"`
}

// EventLog provides append-only access to a JSONL event log.
type EventLog struct {
	path string
	mu   sync.Mutex
}

// NewEventLog returns an EventLog that writes to the provided path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// EventLogPath is where the event log of a recording lives.
func EventLogPath(recording string) string {
	return recording + ".events.jsonl"
}

// Path returns the backing file path for the log.
func (l *EventLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a new entry. A nil log discards it so callers need not check.
func (l *EventLog) Append(ev Event) error {
	if l == nil {
		return nil
	}
	if ev.Kind == "" {
		return errors.New("event missing kind")
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadEventLog loads every entry from the supplied JSONL file.
func ReadEventLog(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var events []Event
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
