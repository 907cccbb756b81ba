package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxMemoryEvents bounds the in-memory event window.
const DefaultMaxMemoryEvents = 500

// EventLog is an append-only log of change events: one JSON object per
// line on disk, with a bounded in-memory window of the most recent
// entries. The file is single-writer (the owning Ledger); external
// readers tailing it must tolerate a partial last line.
type EventLog struct {
	path      string
	maxMemory int

	mu     sync.Mutex
	events []ChangeEvent
}

// NewEventLog opens (or prepares) the log at path and loads the most
// recent maxMemory events into the in-memory window, so restart does
// not lose recent history visible to observers. A missing or partially
// corrupt file is not an error.
func NewEventLog(path string, maxMemory int) *EventLog {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemoryEvents
	}
	l := &EventLog{path: path, maxMemory: maxMemory}
	l.loadRecent()
	return l
}

func (l *EventLog) loadRecent() {
	f, err := os.Open(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("[state] cannot open event log", "path", l.path, "error", err)
		}
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev ChangeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Partial last line after a crash, or hand-edited junk.
			slog.Debug("[state] skipping unparsable event log line", "error", err)
			continue
		}
		l.events = append(l.events, ev)
		if len(l.events) > l.maxMemory {
			l.events = l.events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("[state] error reading event log", "path", l.path, "error", err)
	}
}

// Append records ev in memory and appends it to the durable file.
// The in-memory window always advances; only the file write can fail.
func (l *EventLog) Append(ev ChangeEvent) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	if len(l.events) > l.maxMemory {
		l.events = l.events[len(l.events)-l.maxMemory:]
	}
	l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("state: create event log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("state: open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("state: marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("state: append event: %w", err)
	}
	return nil
}

// Recent returns up to count events from the in-memory window,
// ordered oldest to newest.
func (l *EventLog) Recent(count int) []ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	if count <= 0 || count > len(l.events) {
		count = len(l.events)
	}
	out := make([]ChangeEvent, count)
	copy(out, l.events[len(l.events)-count:])
	return out
}
