package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventDiscover    EventType = "discover"
	EventAdmit       EventType = "admit"
	EventDownloading EventType = "downloading"
	EventArtifact    EventType = "artifact"
	EventStored      EventType = "stored"
	EventFailed      EventType = "failed"
	EventRemoved     EventType = "removed"
	EventStale       EventType = "stale"
	EventOrphan      EventType = "orphan"
	EventError       EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// levelPriority maps event levels to numeric priorities for comparison
var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// ParseLevel converts a name to an EventLevel, defaulting to info
func ParseLevel(name string) EventLevel {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warn" {
		return LevelWarning
	}
	level := EventLevel(name)
	if _, ok := levelPriority[level]; !ok {
		return LevelInfo
	}
	return level
}

// Event represents a single ingest event
type Event struct {
	Timestamp    time.Time         `json:"ts"`
	RunID        string            `json:"run_id"`
	Level        EventLevel        `json:"level"`
	Event        EventType         `json:"event"`
	MediaID      string            `json:"media_id,omitempty"`
	ObjectPath   string            `json:"object_path,omitempty"`
	Stage        string            `json:"stage,omitempty"`
	Kind         string            `json:"kind,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Duration     int64             `json:"duration_ms,omitempty"` // in milliseconds
	Error        string            `json:"error,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file. A nil *EventLogger is valid
// and discards everything.
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	runID    string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level.
// Each logger gets a fresh run id stamped on every event it writes.
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	runID := uuid.NewString()
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("events-%s-%s.jsonl", timestamp, runID[:8])
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		runID:    runID,
		minLevel: minLevel,
	}, nil
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.RunID = l.runID

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return nil
}

// LogAdmit logs the admission of an id
func (l *EventLogger) LogAdmit(id, objectPath string, readmitted bool) error {
	return l.Log(&Event{
		Level:      LevelInfo,
		Event:      EventAdmit,
		MediaID:    id,
		ObjectPath: objectPath,
		Extra: map[string]string{
			"readmitted": fmt.Sprintf("%t", readmitted),
		},
	})
}

// LogTransition logs a status change that carries no extra data
func (l *EventLogger) LogTransition(event EventType, id string) error {
	return l.Log(&Event{
		Level:   LevelInfo,
		Event:   event,
		MediaID: id,
	})
}

// LogArtifact logs an artifact write
func (l *EventLogger) LogArtifact(id, kind string, bytesWritten int64, duration time.Duration, err error) error {
	level := LevelDebug
	errMsg := ""
	if err != nil {
		level = LevelError
		errMsg = err.Error()
	}

	return l.Log(&Event{
		Level:        level,
		Event:        EventArtifact,
		MediaID:      id,
		Kind:         kind,
		BytesWritten: bytesWritten,
		Duration:     duration.Milliseconds(),
		Error:        errMsg,
	})
}

// LogFailed logs a transition to failed
func (l *EventLogger) LogFailed(id, stage, reason string) error {
	return l.Log(&Event{
		Level:   LevelWarning,
		Event:   EventFailed,
		MediaID: id,
		Stage:   stage,
		Reason:  reason,
	})
}

// LogRemoved logs a removal. cleanupErr is the best-effort artifact
// deletion result.
func (l *EventLogger) LogRemoved(id, objectPath string, cleanupErr error) error {
	level := LevelInfo
	errMsg := ""
	if cleanupErr != nil {
		level = LevelWarning
		errMsg = cleanupErr.Error()
	}
	return l.Log(&Event{
		Level:      level,
		Event:      EventRemoved,
		MediaID:    id,
		ObjectPath: objectPath,
		Error:      errMsg,
	})
}

// LogOrphan logs shard files with no ledger record
func (l *EventLogger) LogOrphan(objectPath, ownerID string, pruned bool) error {
	return l.Log(&Event{
		Level:      LevelWarning,
		Event:      EventOrphan,
		MediaID:    ownerID,
		ObjectPath: objectPath,
		Extra: map[string]string{
			"pruned": fmt.Sprintf("%t", pruned),
		},
	})
}

// LogDiscover logs a media file found by a directory scan
func (l *EventLogger) LogDiscover(id, path string, size int64, known bool) error {
	return l.Log(&Event{
		Level:        LevelDebug,
		Event:        EventDiscover,
		MediaID:      id,
		BytesWritten: size,
		Extra: map[string]string{
			"path":  path,
			"known": fmt.Sprintf("%t", known),
		},
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(id, stage string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   EventError,
		MediaID: id,
		Stage:   stage,
		Error:   err.Error(),
	})
}

// Close closes the event log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Path returns the path to the event log file
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RunID returns the id stamped on this run's events
func (l *EventLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// NullLogger returns a no-op event logger
func NullLogger() *EventLogger {
	return nil
}
