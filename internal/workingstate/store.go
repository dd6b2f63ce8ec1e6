// Package workingstate implements the per-task working-state document
// (spec.md §4.2), grounded on
// original_source/backend/memory/working_state.py's sanitize/atomic-write
// idiom, adapted to Go's os.CreateTemp + os.Rename atomic-write pattern.
package workingstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bentman/JARVISv5/internal/jerr"
)

// DefaultTranscriptCap is the default bound on a task's message history
// (spec.md §3: "recommended default 50 messages").
const DefaultTranscriptCap = 50

// Role enumerates transcript message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Document is the working-state JSON document for one task (spec.md §3).
type Document struct {
	TaskID         string    `json:"task_id"`
	Goal           string    `json:"goal"`
	Status         string    `json:"status"`
	CurrentStep    int       `json:"current_step"`
	CompletedSteps []int     `json:"completed_steps"`
	NextSteps      []string  `json:"next_steps"`
	Messages       []Message `json:"messages"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store is the atomic, file-per-task working-state store.
type Store struct {
	basePath      string
	archivePath   string
	transcriptCap int
	mu            sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithTranscriptCap overrides DefaultTranscriptCap.
func WithTranscriptCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.transcriptCap = n
		}
	}
}

// Open creates (if needed) the base/archive directories and returns a
// Store rooted there (data/working_state, data/archives per spec.md §6).
func Open(basePath, archivePath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("workingstate: mkdir base: %w", err)
	}
	if err := os.MkdirAll(archivePath, 0o755); err != nil {
		return nil, fmt.Errorf("workingstate: mkdir archive: %w", err)
	}
	s := &Store{basePath: basePath, archivePath: archivePath, transcriptCap: DefaultTranscriptCap}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// sanitizeTaskID mirrors working_state.py's _sanitize_task_id: strip any
// directory components and keep only alnum/-/_ so a task_id can never
// escape basePath/archivePath.
func sanitizeTaskID(taskID string) (string, error) {
	normalized := strings.ReplaceAll(taskID, "\\", "/")
	base := filepath.Base(normalized)
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	safe := b.String()
	if safe == "" {
		return "", jerr.New(jerr.CodeInvalidArgument, "invalid task_id")
	}
	return safe, nil
}

func (s *Store) workingFile(taskID string) (string, error) {
	safe, err := sanitizeTaskID(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, safe+".json"), nil
}

func (s *Store) archiveFile(taskID string) (string, error) {
	safe, err := sanitizeTaskID(taskID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.archivePath, safe+".json"), nil
}

// atomicWrite writes doc to path by writing a temp file in the same
// directory and renaming over the target (spec.md §4.2: "write to temp,
// rename"; POSIX rename is atomic, so concurrent readers always see either
// the old or the new fully-written document, never a partial one).
func atomicWrite(path string, doc *Document) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("workingstate: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("workingstate: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("workingstate: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("workingstate: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("workingstate: rename: %w", err)
	}
	return nil
}

// CreateTask creates a new working-state document for taskID.
func (s *Store) CreateTask(taskID, goal string, nextSteps []string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.workingFile(taskID)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		TaskID:         taskID,
		Goal:           goal,
		Status:         "INIT",
		CurrentStep:    1,
		CompletedSteps: []int{1},
		NextSteps:      nextSteps,
		Messages:       []Message{},
		UpdatedAt:      time.Now().UTC(),
	}
	if err := atomicWrite(path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Load returns the working-state document for taskID, or nil if it does
// not exist anywhere. A task archived by a prior turn (spec.md §3: "a
// task is archived (terminal) after ARCHIVE or FAILED; further calls
// with its id start a new turn but keep the transcript") is transparently
// reactivated: its document is moved back from the archive directory into
// the working directory, the same single-location invariant ArchiveTask
// relies on in the other direction, so the caller never needs to know
// whether the task was live or archived.
func (s *Store) Load(taskID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.workingFile(taskID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err == nil {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("workingstate: decode: %w", err)
		}
		return &doc, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("workingstate: read: %w", err)
	}

	archivePath, err := s.archiveFile(taskID)
	if err != nil {
		return nil, err
	}
	archiveData, err := os.ReadFile(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workingstate: read archive: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(archiveData, &doc); err != nil {
		return nil, fmt.Errorf("workingstate: decode archive: %w", err)
	}
	if err := os.Rename(archivePath, path); err != nil {
		return nil, fmt.Errorf("workingstate: reactivate rename: %w", err)
	}
	return &doc, nil
}

// Save writes doc atomically, overwriting any prior state.
func (s *Store) Save(taskID string, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.workingFile(taskID)
	if err != nil {
		return err
	}
	doc.TaskID = taskID
	doc.UpdatedAt = time.Now().UTC()
	return atomicWrite(path, doc)
}

// UpdateStatus loads, mutates, and atomically persists the task's status.
func (s *Store) UpdateStatus(taskID, status string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.workingFile(taskID)
	if err != nil {
		return nil, err
	}
	doc, err := s.loadLocked(path)
	if err != nil {
		return nil, err
	}
	doc.Status = status
	doc.UpdatedAt = time.Now().UTC()
	if err := atomicWrite(path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// AppendMessage appends one transcript message, dropping the oldest once
// the transcript cap is exceeded (spec.md §3, §9: "ring-capped structure").
func (s *Store) AppendMessage(taskID string, role Role, content string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.workingFile(taskID)
	if err != nil {
		return nil, err
	}
	doc, err := s.loadLocked(path)
	if err != nil {
		return nil, err
	}
	doc.Messages = append(doc.Messages, Message{Role: string(role), Content: content})
	if len(doc.Messages) > s.transcriptCap {
		doc.Messages = doc.Messages[len(doc.Messages)-s.transcriptCap:]
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := atomicWrite(path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListRecentMessages returns the n most recent transcript messages
// (oldest-first within the returned slice).
func (s *Store) ListRecentMessages(taskID string, n int) ([]Message, error) {
	doc, err := s.Load(taskID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	if n <= 0 || n >= len(doc.Messages) {
		return doc.Messages, nil
	}
	return doc.Messages[len(doc.Messages)-n:], nil
}

// ArchiveTask marks the task ARCHIVED and moves its document from the
// working directory to the archive directory (spec.md §6:
// data/archives/<task_id>.json).
func (s *Store) ArchiveTask(taskID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	workingPath, err := s.workingFile(taskID)
	if err != nil {
		return nil, err
	}
	archivePath, err := s.archiveFile(taskID)
	if err != nil {
		return nil, err
	}
	doc, err := s.loadLocked(workingPath)
	if err != nil {
		return nil, err
	}
	doc.Status = "ARCHIVED"
	doc.UpdatedAt = time.Now().UTC()
	if err := atomicWrite(workingPath, doc); err != nil {
		return nil, err
	}
	if err := os.Rename(workingPath, archivePath); err != nil {
		return nil, fmt.Errorf("workingstate: archive rename: %w", err)
	}
	return doc, nil
}

func (s *Store) loadLocked(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jerr.New(jerr.CodeNotFound, "task not found")
		}
		return nil, fmt.Errorf("workingstate: read: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workingstate: decode: %w", err)
	}
	return &doc, nil
}
