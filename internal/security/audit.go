package security

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates security audit events. spec.md restricts this to
// four members — the original's encryption/decryption/suspicious-pattern/
// external_call_completed members are dropped since at-rest encryption is
// an explicit non-goal and no SPEC_FULL.md component emits them.
type EventType string

const (
	EventPIIDetected           EventType = "pii_detected"
	EventPIIRedacted           EventType = "pii_redacted"
	EventExternalCallInitiated EventType = "external_call_initiated"
	EventPermissionDenied      EventType = "permission_denied"
)

// Severity enumerates audit event severities.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one security audit record (spec.md §4.6, §6:
// "{event_type, timestamp, severity, task_id?, context}"), extended with
// a unique EventID so two events with identical timestamps and task ids
// can still be told apart in a replay or a cross-referenced trace.
// Context must never carry raw PII — only summaries (types, counts,
// truncated snippets).
type Event struct {
	EventID   string         `json:"event_id"`
	EventType EventType      `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	TaskID    string         `json:"task_id,omitempty"`
	Context   map[string]any `json:"context"`
}

// AuditLog appends security events to a JSONL file, flushing after every
// write (spec.md §4.6), ported from
// original_source/backend/security/audit_logger.py's SecurityAuditLogger.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// OpenAuditLog creates the parent directory (if needed) and returns an
// AuditLog appending to path (data/logs/security_audit.jsonl per
// spec.md §6).
func OpenAuditLog(path string) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("security: mkdir: %w", err)
		}
	}
	return &AuditLog{path: path}, nil
}

func truncateSnippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LogEvent appends one event as a single JSON line and flushes
// immediately. A blank EventID is filled in before the write.
func (a *AuditLog) LogEvent(event Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("security: open audit log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("security: marshal event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("security: write event: %w", err)
	}
	return f.Sync()
}

// LogPIIDetection records a pii_detected event. context is truncated to
// 100 characters before being stored, matching the original's
// context_snippet cap; pii_types and the truncated snippet are the only
// context carried — never the raw matched text.
func (a *AuditLog) LogPIIDetection(piiTypes []string, context, taskID string) error {
	return a.LogEvent(Event{
		EventType: EventPIIDetected,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  SeverityWarning,
		TaskID:    taskID,
		Context: map[string]any{
			"pii_types":       piiTypes,
			"context_snippet": truncateSnippet(context, 100),
		},
	})
}

// LogPIIRedaction records a pii_redacted event.
func (a *AuditLog) LogPIIRedaction(piiTypes []string, total int, taskID string) error {
	return a.LogEvent(Event{
		EventType: EventPIIRedacted,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  SeverityWarning,
		TaskID:    taskID,
		Context: map[string]any{
			"pii_types": piiTypes,
			"total":     total,
		},
	})
}

// LogExternalCall records an external_call_initiated event. payload must
// already be redacted by the caller.
func (a *AuditLog) LogExternalCall(provider, endpoint string, redactedPayload map[string]any, taskID string) error {
	return a.LogEvent(Event{
		EventType: EventExternalCallInitiated,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  SeverityInfo,
		TaskID:    taskID,
		Context: map[string]any{
			"provider": provider,
			"endpoint": endpoint,
			"payload":  redactedPayload,
		},
	})
}

// LogPermissionDenied records a permission_denied event.
func (a *AuditLog) LogPermissionDenied(operation, reason, taskID string) error {
	return a.LogEvent(Event{
		EventType: EventPermissionDenied,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  SeverityWarning,
		TaskID:    taskID,
		Context: map[string]any{
			"operation": operation,
			"reason":    reason,
		},
	})
}

// ReadEvents reads every event from the log, optionally filtered by
// eventType (empty = no filter) and since (zero = no filter).
func (a *AuditLog) ReadEvents(eventType EventType, since time.Time) ([]Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("security: open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("security: decode event: %w", err)
		}
		if eventType != "" && ev.EventType != eventType {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(time.RFC3339, ev.Timestamp)
			if err == nil && ts.Before(since) {
				continue
			}
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("security: scan audit log: %w", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
