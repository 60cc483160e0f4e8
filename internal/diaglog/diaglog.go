// Package diaglog writes NDJSON diagnostic records for micvad-go. It is the
// local destination for events that cannot reach the host, plus host channel
// lifecycle. A Logger built with an empty path is a no-op.
package diaglog

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultMaxSize caps the log file before it is rolled to path.1.
const DefaultMaxSize = 10 * 1024 * 1024

// ── Component labels ────────────────────────────────────────────────────────

const (
	ComponentBridge = "bridge"
	ComponentHost   = "host-ws"
	ComponentDaemon = "vadbridge"
)

// ── Event names ─────────────────────────────────────────────────────────────

const (
	EventHostConnect    = "host_connect"
	EventHostReplaced   = "host_replaced"
	EventHostDisconnect = "host_disconnect"
	EventConfigReload   = "config_reload"
)

// ReasonHostUnavailable tags events written because the host was unreachable.
const ReasonHostUnavailable = "host_unavailable"

// LogEntry is one structured record written as a single JSON line.
type LogEntry struct {
	Timestamp string `json:"ts"`                   // RFC3339Nano
	Component string `json:"component"`            // see Component* constants
	Event     string `json:"event"`                // Event* constants or a handler name
	SessionID string `json:"session_id,omitempty"` // bridge session
	Reason    string `json:"reason,omitempty"`
	Payload   any    `json:"payload,omitempty"` // summarized before write
}

// Logger writes LogEntry values to a rolling NDJSON file.
type Logger struct {
	rw      *rollingWriter
	mu      sync.Mutex
	enabled bool
}

// New opens (or creates) the NDJSON file at path, rolling it to path.1 whenever it
// would grow past maxSize (DefaultMaxSize when <= 0). An empty path returns a
// no-op logger.
func New(path string, maxSize int64) (*Logger, error) {
	if path == "" {
		return NewNoOp(), nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	rw, err := newRollingWriter(path, maxSize)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, enabled: true}, nil
}

// NewNoOp returns a logger where every Log call is a no-op. Use as a safe
// fallback when New fails (e.g., disk full, permissions error).
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}

// Enabled reports whether records reach a file.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Log serialises entry to JSON, appends a newline, and writes it.
func (l *Logger) Log(entry LogEntry) {
	if !l.Enabled() {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.rw.Write(data)
}

// Record logs a bridge event that was routed to the local fallback. Sample
// arrays are reduced to counts.
func (l *Logger) Record(handler, payload string) {
	l.Log(LogEntry{
		Component: ComponentBridge,
		Event:     handler,
		Reason:    ReasonHostUnavailable,
		Payload:   Summarize(handler, payload),
	})
}

// Close flushes and closes the underlying file. Safe on nil/disabled logger.
func (l *Logger) Close() error {
	if !l.Enabled() || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}
