// Package eventlog provides the persistent audit trail for recording
// sessions. It captures session lifecycle events (started, completed,
// canceled, error, timeout, size_limit), silence transitions and upload
// outcomes in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Session event names.
const (
	SessionStarted   = "session_started"
	SessionCompleted = "session_completed"
	SessionCanceled  = "session_canceled"
	SessionError     = "session_error"
	SessionTimeout   = "session_timeout"
	SizeLimit        = "size_limit"
)

// Silence event names.
const (
	SilenceEntered = "silence_entered"
	SilenceExited  = "silence_exited"
)

// Upload event names.
const (
	UploadQueued    = "upload_queued"
	UploadCompleted = "upload_completed"
	UploadFailed    = "upload_failed"
	CleanupDone     = "cleanup_completed"
)

// Event represents a single log entry.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Name      string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger writes events to a JSON lines file. Write failures are
// swallowed after the logger is created: the audit trail must never
// take a recording session down.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates an event logger appending to the given path.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log appends one event. Safe for concurrent use.
func (l *Logger) Log(sessionID, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.encoder.Encode(&Event{
		Timestamp: time.Now(),
		Name:      event,
		SessionID: sessionID,
		Fields:    fields,
	})
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter selects which event categories ReadLast returns.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSession TypeFilter = "session"
	FilterSilence TypeFilter = "silence"
	FilterUpload  TypeFilter = "upload"
)

// MaxReadLimit caps how many events one ReadLast call may return.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, newest first, plus
// whether more events remain past the returned page.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	if n > MaxReadLimit {
		n = MaxReadLimit
	}
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Walk backwards so the newest events come first, applying the
	// filter before pagination.
	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !matchesFilter(event.Name, filter) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) >= n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}

func matchesFilter(name string, filter TypeFilter) bool {
	switch filter {
	case FilterSession:
		return IsSessionEvent(name)
	case FilterSilence:
		return IsSilenceEvent(name)
	case FilterUpload:
		return IsUploadEvent(name)
	default:
		return true
	}
}

// IsSessionEvent returns true for session lifecycle events.
func IsSessionEvent(name string) bool {
	switch name {
	case SessionStarted, SessionCompleted, SessionCanceled, SessionError, SessionTimeout, SizeLimit:
		return true
	}
	return false
}

// IsSilenceEvent returns true for silence transition events.
func IsSilenceEvent(name string) bool {
	return name == SilenceEntered || name == SilenceExited
}

// IsUploadEvent returns true for upload and cleanup events.
func IsUploadEvent(name string) bool {
	switch name {
	case UploadQueued, UploadCompleted, UploadFailed, CleanupDone:
		return true
	}
	return strings.HasPrefix(name, "upload_")
}
