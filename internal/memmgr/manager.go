// Package memmgr is the thin façade over the three memory stores
// (spec.md §4.4): "exposes episodic, working, and semantic handles plus
// convenience record_decision, record_tool_call, append_message. Holds
// no independent state; its sole purpose is to ensure all callers share
// one consistent view of the three stores." Grounded on Shannon's own
// composition-root idiom (internal/db's `*DB` bundling multiple store
// handles) rather than any single original_source file, since the
// Python implementation never introduces an equivalent facade type.
package memmgr

import (
	"context"

	"github.com/bentman/JARVISv5/internal/episodic"
	"github.com/bentman/JARVISv5/internal/semantic"
	"github.com/bentman/JARVISv5/internal/workingstate"
)

// Manager owns no state of its own; it only holds the three store
// handles so every caller in the process shares one consistent view.
type Manager struct {
	Episodic *episodic.Store
	Working  *workingstate.Store
	Semantic *semantic.Store
}

// New assembles a Manager over already-open store handles. Opening and
// closing the stores is the caller's responsibility (cmd/jarvisd wires
// lifetimes at process start/stop).
func New(ep *episodic.Store, ws *workingstate.Store, sem *semantic.Store) *Manager {
	return &Manager{Episodic: ep, Working: ws, Semantic: sem}
}

// RecordDecision appends a decision to the episodic log on behalf of a
// node or the controller.
func (m *Manager) RecordDecision(ctx context.Context, taskID string, actionType episodic.ActionType, content string, status episodic.Status) (int64, error) {
	return m.Episodic.AppendDecision(ctx, taskID, actionType, content, status)
}

// RecordToolCall appends a tool-call record owned by decisionID.
func (m *Manager) RecordToolCall(ctx context.Context, decisionID int64, toolName, paramsJSON, resultJSON string) (int64, error) {
	return m.Episodic.AppendToolCall(ctx, decisionID, toolName, paramsJSON, resultJSON)
}

// RecordValidation appends a validation record owned by decisionID.
func (m *Manager) RecordValidation(ctx context.Context, decisionID int64, validatorType, result, notes string) (int64, error) {
	return m.Episodic.AppendValidation(ctx, decisionID, validatorType, result, notes)
}

// AppendMessage is a convenience passthrough to the working state
// store's transcript ring.
func (m *Manager) AppendMessage(taskID string, role workingstate.Role, content string) (*workingstate.Document, error) {
	return m.Working.AppendMessage(taskID, role, content)
}
