// Package heartbeat exposes process liveness as the modification time of a file.
// External monitors poll the file's age to tell whether the feed is delivering.
package heartbeat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultPath is where the marker lives when no path is configured.
const DefaultPath = "/tmp/hyperliquid_monitor.heartbeat"

// FileReporter advances a marker file's mtime on every Tick.
type FileReporter struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time

	// Now is the reporter's clock.
	Now func() time.Time
}

// NewFileReporter creates a reporter for path.
func NewFileReporter(path string, logger *slog.Logger) *FileReporter {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileReporter{path: path, logger: logger, Now: time.Now}
}

// Path returns the marker path.
func (r *FileReporter) Path() string {
	return r.path
}

// Tick records that an event was processed. Failures are logged; a missing
// marker never stops event processing.
func (r *FileReporter) Tick() {
	if err := r.touch(); err != nil {
		r.logger.Warn("heartbeat_update_failed", "path", r.path, "error", err)
	}
}

// Last returns the time written by the most recent successful Tick.
func (r *FileReporter) Last() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *FileReporter) touch() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	// never move the marker backwards if the wall clock steps back
	if now.Before(r.last) {
		now = r.last
	}

	err := os.Chtimes(r.path, now, now)
	if os.IsNotExist(err) {
		if err = os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
			return fmt.Errorf("create heartbeat dir: %w", err)
		}
		f, createErr := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY, 0o644)
		if createErr != nil {
			return fmt.Errorf("create heartbeat file: %w", createErr)
		}
		if closeErr := f.Close(); closeErr != nil {
			return fmt.Errorf("close heartbeat file: %w", closeErr)
		}
		err = os.Chtimes(r.path, now, now)
	}
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}

	r.last = now
	return nil
}
