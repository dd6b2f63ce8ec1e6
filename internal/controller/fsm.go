// Package controller implements the Controller (FSM) (spec.md §4.12): a
// deterministic state machine that advances a task through
// INIT→PLAN→EXECUTE→VALIDATE→COMMIT→ARCHIVE, with any non-terminal state
// able to fall to the terminal FAILED branch. Grounded on
// original_source/backend/controller/{fsm,controller_service}.py.
package controller

import (
	"github.com/bentman/JARVISv5/internal/jerr"
)

// State is one of the seven Controller states (spec.md §4.12).
type State string

const (
	StateInit     State = "INIT"
	StatePlan     State = "PLAN"
	StateExecute  State = "EXECUTE"
	StateValidate State = "VALIDATE"
	StateCommit   State = "COMMIT"
	StateArchive  State = "ARCHIVE"
	StateFailed   State = "FAILED"
)

// terminal states never transition further (spec.md I5).
var terminal = map[State]bool{StateArchive: true, StateFailed: true}

// transitions enumerates every legal successor set (spec.md §4.12).
var transitions = map[State][]State{
	StateInit:     {StatePlan},
	StatePlan:     {StateExecute, StateFailed},
	StateExecute:  {StateValidate, StateFailed},
	StateValidate: {StateCommit, StateFailed},
	StateCommit:   {StateArchive},
	StateArchive:  {},
	StateFailed:   {},
}

// FSM is the deterministic state machine for one task's run. Grounded on
// original_source/backend/controller/fsm.py's DeterministicFSM: the same
// transitions table and the same special-case rule that FAILED is
// reachable from any non-terminal state even though it is not listed
// explicitly in every row.
type FSM struct {
	current State
}

// NewFSM returns an FSM starting at INIT.
func NewFSM() *FSM {
	return &FSM{current: StateInit}
}

// Current returns the FSM's current state.
func (f *FSM) Current() State { return f.current }

// CanTransition reports whether target is reachable from the current
// state in one step.
func (f *FSM) CanTransition(target State) bool {
	if target == StateFailed {
		return !terminal[f.current]
	}
	for _, s := range transitions[f.current] {
		if s == target {
			return true
		}
	}
	return false
}

// Transition advances the FSM to target, or returns invalid_transition if
// the move is illegal (a programmer error, never reachable via user
// input per spec.md §4.12).
func (f *FSM) Transition(target State) *jerr.Error {
	if !f.CanTransition(target) {
		return jerr.New(jerr.CodeInvalidTransition, "illegal FSM transition").
			WithDetails(map[string]any{"from": string(f.current), "to": string(target)})
	}
	f.current = target
	return nil
}
