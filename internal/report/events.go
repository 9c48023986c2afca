package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

// EventsFile is the event log name used inside a run's log directory.
const EventsFile = "events.jsonl"

// EventEntry is one line of the event log.
type EventEntry struct {
	RunID string `json:"run_id"`
	scenario.Event
}

// EventLog appends executor events to a JSONL file. It is safe for
// concurrent use, so parallel scenarios can share one log.
type EventLog struct {
	path  string
	runID string
	mu    sync.Mutex
	file  *os.File
}

// NewEventLog opens path for appending.
func NewEventLog(path, runID string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &EventLog{path: path, runID: runID, file: f}, nil
}

// Path returns the file the log writes to.
func (l *EventLog) Path() string { return l.path }

// Record writes one event. Writes after Close are dropped.
func (l *EventLog) Record(ev scenario.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	data, err := json.Marshal(EventEntry{RunID: l.runID, Event: ev})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Sink adapts Record to the executor's OnEvent hook. Write errors are
// dropped.
func (l *EventLog) Sink() func(scenario.Event) {
	return func(ev scenario.Event) { _ = l.Record(ev) }
}

// Close closes the log file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ReadEvents reads every entry from an event log. A missing file yields no
// entries; malformed lines are skipped.
func ReadEvents(path string) ([]EventEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading event log: %w", err)
	}

	var entries []EventEntry
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var entry EventEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// EventsForRun filters entries to a single run.
func EventsForRun(entries []EventEntry, runID string) []EventEntry {
	var out []EventEntry
	for _, e := range entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
