// Package episodic implements the append-only decision / tool_call /
// validation log (spec.md §4.1), grounded on
// original_source/backend/memory/episodic_db.py and adapted to sqlite via
// github.com/mattn/go-sqlite3 + github.com/jmoiron/sqlx the way
// Kocoro-lab/Shannon's internal/db package wraps its relational store.
package episodic

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/bentman/JARVISv5/internal/jerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	task_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_task_id ON decisions(task_id);
CREATE INDEX IF NOT EXISTS idx_decisions_action_type ON decisions(action_type);
CREATE INDEX IF NOT EXISTS idx_decisions_id_desc ON decisions(id DESC);

CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id INTEGER NOT NULL,
	tool_name TEXT NOT NULL,
	params TEXT NOT NULL,
	result TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_decision_id ON tool_calls(decision_id);
CREATE INDEX IF NOT EXISTS idx_tool_calls_tool_name ON tool_calls(tool_name);
CREATE INDEX IF NOT EXISTS idx_tool_calls_id_desc ON tool_calls(id DESC);

CREATE TABLE IF NOT EXISTS validations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id INTEGER NOT NULL,
	validator_type TEXT NOT NULL,
	result TEXT NOT NULL,
	notes TEXT NOT NULL
);
`

// Store is the sqlite-backed episodic log. Writers serialize on mu in
// addition to sqlite's own locking (spec.md §5: "Episodic Log writers
// serialize on a process-local mutex and rely on the storage engine's own
// transaction").
type Store struct {
	db     *sqlx.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open creates or attaches to the trace database at path
// (data/episodic/trace.db per spec.md §6).
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("episodic: create dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("episodic: open: %w", err)
	}
	// Single-writer connection pool: sqlite serializes writers anyway, and
	// a single connection avoids WAL writer-lock contention, grounded on
	// the PRAGMA/pool pattern in a single-process embedded sqlite store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("episodic: init schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB so callers (the admin health checker,
// in particular) can ping or inspect pool stats without this package
// growing a health-specific API of its own.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// AppendDecision appends one decision row (spec.md I1: exactly one decision
// row per state transition). synchronous=FULL guarantees the commit is
// fsynced before this returns.
func (s *Store) AppendDecision(ctx context.Context, taskID string, actionType ActionType, content string, status Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (timestamp, task_id, action_type, content, status) VALUES (?, ?, ?, ?, ?)`,
		ts, taskID, string(actionType), content, string(status))
	if err != nil {
		return 0, fmt.Errorf("episodic: append decision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("episodic: last insert id: %w", err)
	}
	return id, nil
}

// AppendToolCall appends one tool_call row owned by decisionID (spec.md
// I2: every tool invocation produces at least one tool_call row plus its
// owning decision).
func (s *Store) AppendToolCall(ctx context.Context, decisionID int64, toolName, paramsJSON, resultJSON string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (decision_id, tool_name, params, result, timestamp) VALUES (?, ?, ?, ?, ?)`,
		decisionID, toolName, paramsJSON, resultJSON, ts)
	if err != nil {
		return 0, fmt.Errorf("episodic: append tool call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("episodic: last insert id: %w", err)
	}
	return id, nil
}

// AppendValidation appends one validation row owned by decisionID
// (SPEC_FULL.md §3.A).
func (s *Store) AppendValidation(ctx context.Context, decisionID int64, validatorType, result, notes string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO validations (decision_id, validator_type, result, notes) VALUES (?, ?, ?, ?)`,
		decisionID, validatorType, result, notes)
	if err != nil {
		return 0, fmt.Errorf("episodic: append validation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("episodic: last insert id: %w", err)
	}
	return id, nil
}

// SearchDecisions returns decisions whose content matches query
// (case-insensitive substring), newest first, optionally scoped to
// taskID. Empty/whitespace query fails with invalid_argument.
func (s *Store) SearchDecisions(ctx context.Context, query string, taskID string, limit int) ([]Decision, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, jerr.New(jerr.CodeInvalidArgument, "query must be non-empty")
	}
	if limit <= 0 {
		limit = 20
	}

	like := "%" + strings.ToLower(trimmed) + "%"
	var rows []Decision
	var err error
	if taskID != "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, timestamp, task_id, action_type, content, status FROM decisions
			 WHERE LOWER(content) LIKE ? AND task_id = ?
			 ORDER BY id DESC LIMIT ?`, like, taskID, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, timestamp, task_id, action_type, content, status FROM decisions
			 WHERE LOWER(content) LIKE ?
			 ORDER BY id DESC LIMIT ?`, like, limit)
	}
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("episodic: search decisions: %w", err)
	}
	return rows, nil
}

// SearchToolCalls returns tool_calls whose tool_name, params, or result
// matches query, newest first, optionally scoped to taskID (scoping is via
// a join against decisions, since tool_calls itself has no task_id column).
func (s *Store) SearchToolCalls(ctx context.Context, query string, taskID string, limit int) ([]ToolCall, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, jerr.New(jerr.CodeInvalidArgument, "query must be non-empty")
	}
	if limit <= 0 {
		limit = 20
	}

	like := "%" + strings.ToLower(trimmed) + "%"
	var rows []ToolCall
	var err error
	if taskID != "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT tc.id, tc.decision_id, tc.tool_name, tc.params, tc.result, tc.timestamp
			 FROM tool_calls tc JOIN decisions d ON d.id = tc.decision_id
			 WHERE d.task_id = ? AND (LOWER(tc.tool_name) LIKE ? OR LOWER(tc.params) LIKE ? OR LOWER(tc.result) LIKE ?)
			 ORDER BY tc.id DESC LIMIT ?`, taskID, like, like, like, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, decision_id, tool_name, params, result, timestamp FROM tool_calls
			 WHERE LOWER(tool_name) LIKE ? OR LOWER(params) LIKE ? OR LOWER(result) LIKE ?
			 ORDER BY id DESC LIMIT ?`, like, like, like, limit)
	}
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("episodic: search tool calls: %w", err)
	}
	return rows, nil
}
