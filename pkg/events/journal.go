package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Journal appends events to a JSONL file, one JSON object per line.
// Appends are atomic at the line level; fsync is deliberately skipped,
// losing at most the tail on power loss.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// OpenJournal opens (or creates) the events file at path, creating parent
// directories as needed.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("events: create journal dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: open journal: %w", err)
	}
	return &Journal{file: file}, nil
}

// Append writes one event as a JSON line.
func (j *Journal) Append(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return fmt.Errorf("events: journal closed")
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("events: append event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
