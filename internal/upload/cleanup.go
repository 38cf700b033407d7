package upload

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wavecap/wavecap/internal/eventlog"
)

// cleanupHour is the local hour the daily retention sweep runs at.
const cleanupHour = 3

// Cleaner removes local recordings older than the retention window.
type Cleaner struct {
	dir       string
	retention time.Duration
	events    EventSink
	logger    *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewCleaner creates a retention cleaner for the recordings directory.
// retentionDays of 0 disables cleanup entirely.
func NewCleaner(dir string, retentionDays int, events EventSink, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		dir:       dir,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		events:    events,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the daily sweep scheduler.
func (c *Cleaner) Start() {
	if c.retention == 0 {
		c.logger.Info("Retention cleanup disabled, keeping recordings forever")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			next := nextRunTime(time.Now())
			c.logger.Info("Retention cleanup scheduled", "at", next.Format(time.DateTime))

			select {
			case <-time.After(time.Until(next)):
				c.RunOnce()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the scheduler.
func (c *Cleaner) Stop() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RunOnce sweeps the recordings directory, removing WAV files whose
// modification time is past the retention window. Returns how many
// files were deleted.
func (c *Cleaner) RunOnce() int {
	if c.retention == 0 {
		return 0
	}

	cutoff := time.Now().Add(-c.retention)
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("Retention cleanup failed to list recordings", "dir", c.dir, "error", err)
		return 0
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".wav" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("Retention cleanup could not delete recording", "path", path, "error", err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		c.logger.Info("Retention cleanup completed", "deleted", deleted)
		if c.events != nil {
			c.events.Log("", eventlog.CleanupDone, map[string]any{"files_deleted": deleted})
		}
	}
	return deleted
}

// nextRunTime returns the next occurrence of the cleanup hour.
func nextRunTime(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
