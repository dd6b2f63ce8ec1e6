package controller

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
	"github.com/bentman/JARVISv5/internal/episodic"
	"github.com/bentman/JARVISv5/internal/jerr"
	"github.com/bentman/JARVISv5/internal/memmgr"
	"github.com/bentman/JARVISv5/internal/metrics"
	"github.com/bentman/JARVISv5/internal/tracing"
	"github.com/bentman/JARVISv5/internal/workflow"
	"github.com/bentman/JARVISv5/internal/workingstate"
)

// RunInput is the task submission entry point's payload (spec.md §6:
// "{user_input, task_id?}"), extended with an optional ToolCall to
// exercise the DAG's runtime-only tool_call augmentation (spec.md
// §4.10), which has no representative field in the minimal external
// shape spec.md §6 describes.
type RunInput struct {
	Text     string
	TaskID   string
	Goal     string
	ToolCall map[string]any
}

// TraceEntry is one entry in the combined decision-row-and-node-event
// trace a run produces (spec.md §4.12, GLOSSARY "Trace").
type TraceEntry struct {
	ControllerState string
	EventType       string
	NodeID          string
	NodeType        string
	Success         bool
	ElapsedNS       int64
	StartOffsetNS   int64
	ErrorCode       string
}

// RunResult is the task submission entry point's return shape (spec.md
// §6: "{task_id, final_state, llm_output}"), plus the full trace.
type RunResult struct {
	TaskID     string
	FinalState string
	LLMOutput  string
	Trace      []TraceEntry
}

// Controller drives one task through the FSM, wiring the compiled
// workflow graph, the DAG executor, and the validator together (spec.md
// §4.12). Grounded on
// original_source/backend/controller/controller_service.py's
// ControllerService.run: the same create-task/append-message →
// INIT→PLAN → EXECUTE → VALIDATE → COMMIT → ARCHIVE walk, with every
// step wrapped so an exception (here, any node_error or storage error)
// routes to _fail instead of escaping uncaught.
type Controller struct {
	Memory         *memmgr.Manager
	Router         *workflow.RouterNode
	ContextBuilder *workflow.ContextBuilderNode
	ToolCall       *workflow.ToolCallNode
	LLMWorker      *workflow.LLMWorkerNode
	Validator      *workflow.ValidatorNode
	Executor       *jarvisdag.Executor
	Clock          func() time.Time
	Logger         *zap.Logger
}

// New builds a Controller. Missing optional collaborators (ToolCall) are
// tolerated: a compiled graph that needs one and doesn't find it in the
// registry fails closed via dag.Execute's configuration_error.
func New(mem *memmgr.Manager, router *workflow.RouterNode, cb *workflow.ContextBuilderNode, tc *workflow.ToolCallNode, llm *workflow.LLMWorkerNode, validator *workflow.ValidatorNode) *Controller {
	return &Controller{
		Memory:         mem,
		Router:         router,
		ContextBuilder: cb,
		ToolCall:       tc,
		LLMWorker:      llm,
		Validator:      validator,
		Executor:       jarvisdag.NewExecutor(),
		Clock:          func() time.Time { return time.Now().UTC() },
		Logger:         zap.NewNop(),
	}
}

func (c *Controller) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock()
}

func (c *Controller) registry() map[string]jarvisdag.Node {
	reg := map[string]jarvisdag.Node{}
	if c.Router != nil {
		reg[c.Router.ID()] = c.Router
	}
	if c.ContextBuilder != nil {
		reg[c.ContextBuilder.ID()] = c.ContextBuilder
	}
	if c.ToolCall != nil {
		reg[c.ToolCall.ID()] = c.ToolCall
	}
	if c.LLMWorker != nil {
		reg[c.LLMWorker.ID()] = c.LLMWorker
	}
	return reg
}

// generateTaskID mints a "task-" + 10 hex chars identifier (spec.md §3).
func generateTaskID() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("controller: generate task id: %w", err)
	}
	return "task-" + hex.EncodeToString(buf), nil
}

// Run advances one task through the full FSM walk (spec.md §4.12's
// run() algorithm, steps 1-6).
func (c *Controller) Run(ctx context.Context, in RunInput) (RunResult, *jerr.Error) {
	ctx, span := tracing.StartSpan(ctx, "controller.run")
	defer span.End()

	start := c.now()
	trace := make([]TraceEntry, 0, 16)
	fsm := NewFSM()

	taskID := in.TaskID
	if taskID == "" {
		generated, err := generateTaskID()
		if err != nil {
			return c.fail(ctx, fsm, taskID, trace, start, "task_id_generation_failed", err.Error())
		}
		taskID = generated
	}
	span.SetAttributes(attribute.String("jarvis.task_id", taskID))

	// Step 1: resolve/create task; load or create working state; append
	// the user message.
	doc, err := c.Memory.Working.Load(taskID)
	if err != nil {
		return c.fail(ctx, fsm, taskID, trace, start, "working_state_load_error", err.Error())
	}
	if doc == nil {
		goal := in.Goal
		if goal == "" {
			goal = in.Text
		}
		doc, err = c.Memory.Working.CreateTask(taskID, goal, nil)
		if err != nil {
			return c.fail(ctx, fsm, taskID, trace, start, "working_state_create_error", err.Error())
		}
	}
	if _, err := c.Memory.AppendMessage(taskID, workingstate.RoleUser, in.Text); err != nil {
		return c.fail(ctx, fsm, taskID, trace, start, "working_state_append_error", err.Error())
	}

	wc := jarvisdag.Context{
		"task_id":    taskID,
		"user_input": in.Text,
		"turn":       len(doc.Messages) + 1,
	}
	if in.ToolCall != nil {
		wc["tool_call"] = in.ToolCall
	}

	// Step 2: INIT -> PLAN; compile graph.
	if ferr := fsm.Transition(StatePlan); ferr != nil {
		return RunResult{}, ferr
	}
	c.recordTransition(ctx, taskID, StatePlan, episodic.ActionPlan, episodic.StatusOK, "transition to PLAN", &trace)

	graph := jarvisdag.CompilePlan(jarvisdag.PlanInput{HasToolCall: in.ToolCall != nil})

	// Step 3: PLAN -> EXECUTE; run DAG, collecting trace.
	if ferr := fsm.Transition(StateExecute); ferr != nil {
		return RunResult{}, ferr
	}
	c.recordTransition(ctx, taskID, StateExecute, episodic.ActionNode, episodic.StatusOK, "transition to EXECUTE", &trace)

	wc, dagTrace, derr := c.Executor.Execute(ctx, graph, c.registry(), wc)
	for _, ev := range dagTrace {
		trace = append(trace, TraceEntry{
			ControllerState: string(StateExecute),
			EventType:       string(ev.EventType),
			NodeID:          ev.NodeID,
			NodeType:        ev.NodeType,
			Success:         ev.Success,
			ElapsedNS:       ev.ElapsedNS,
			StartOffsetNS:   ev.StartOffsetNS,
			ErrorCode:       ev.ErrorCode,
		})
	}
	if derr != nil {
		return c.fail(ctx, fsm, taskID, trace, start, string(derr.Code), derr.Message)
	}
	if code, failed := jarvisdag.NodeErrorCode(wc); failed {
		message, _ := wc[jarvisdag.KeyNodeErrorMessage].(string)
		return c.fail(ctx, fsm, taskID, trace, start, code, message)
	}

	// Step 4: EXECUTE -> VALIDATE; apply validator; on error go FAILED.
	if ferr := fsm.Transition(StateValidate); ferr != nil {
		return RunResult{}, ferr
	}
	c.recordTransition(ctx, taskID, StateValidate, episodic.ActionNode, episodic.StatusOK, "transition to VALIDATE", &trace)

	if c.Validator != nil {
		validateStart := c.now()
		wc = c.Validator.Execute(ctx, wc)
		elapsed := c.now().Sub(validateStart).Nanoseconds()

		if code, failed := jarvisdag.NodeErrorCode(wc); failed {
			message, _ := wc[jarvisdag.KeyNodeErrorMessage].(string)
			trace = append(trace, TraceEntry{
				ControllerState: string(StateValidate), EventType: string(jarvisdag.EventError),
				NodeID: c.Validator.ID(), NodeType: c.Validator.ID(), Success: false, ElapsedNS: elapsed, ErrorCode: code,
			})
			return c.fail(ctx, fsm, taskID, trace, start, code, message)
		}
		trace = append(trace, TraceEntry{
			ControllerState: string(StateValidate), EventType: string(jarvisdag.EventEnd),
			NodeID: c.Validator.ID(), NodeType: c.Validator.ID(), Success: true, ElapsedNS: elapsed,
		})
	}

	// Step 5: VALIDATE -> COMMIT: persist working-state changes, append
	// decision rows.
	if ferr := fsm.Transition(StateCommit); ferr != nil {
		return RunResult{}, ferr
	}
	c.recordTransition(ctx, taskID, StateCommit, episodic.ActionValidate, episodic.StatusOK, "transition to COMMIT", &trace)

	if _, err := c.Memory.Working.UpdateStatus(taskID, string(StateCommit)); err != nil {
		return c.fail(ctx, fsm, taskID, trace, start, "working_state_commit_error", err.Error())
	}

	// Step 6: COMMIT -> ARCHIVE: mark task archived; write archival
	// record.
	if ferr := fsm.Transition(StateArchive); ferr != nil {
		return RunResult{}, ferr
	}
	c.recordTransition(ctx, taskID, StateArchive, episodic.ActionArchive, episodic.StatusOK, "transition to ARCHIVE", &trace)

	if _, err := c.Memory.Working.ArchiveTask(taskID); err != nil {
		return c.fail(ctx, fsm, taskID, trace, start, "archive_error", err.Error())
	}

	trace = append(trace, TraceEntry{
		EventType: "controller_latency_baseline_total_elapsed_ns",
		ElapsedNS: c.now().Sub(start).Nanoseconds(),
	})

	llmOutput, _ := wc["llm_output"].(string)
	span.SetStatus(codes.Ok, "")
	metrics.RecordTask(string(StateArchive), c.now().Sub(start).Seconds())
	return RunResult{TaskID: taskID, FinalState: string(StateArchive), LLMOutput: llmOutput, Trace: trace}, nil
}

// fail transitions fsm to FAILED (legal from any non-terminal state per
// spec.md §4.12), records the failing decision, and returns the partial
// trace. The Controller still persists the trace/decision rows but never
// ARCHIVEs (spec.md §4.12 failure semantics).
func (c *Controller) fail(ctx context.Context, fsm *FSM, taskID string, trace []TraceEntry, start time.Time, code, message string) (RunResult, *jerr.Error) {
	tracing.SpanFromContext(ctx).SetStatus(codes.Error, code)
	if fsm.CanTransition(StateFailed) {
		_ = fsm.Transition(StateFailed)
	}
	if taskID != "" {
		c.recordTransition(ctx, taskID, StateFailed, episodic.ActionError,
			episodic.StatusErr, fmt.Sprintf("%s: %s", code, message), &trace)
	}
	trace = append(trace, TraceEntry{
		EventType: "controller_latency_baseline_total_elapsed_ns",
		ElapsedNS: c.now().Sub(start).Nanoseconds(),
	})
	metrics.RecordTask(string(StateFailed), c.now().Sub(start).Seconds())
	return RunResult{TaskID: taskID, FinalState: string(StateFailed), Trace: trace}, nil
}

// recordTransition appends the transition's decision row to the
// episodic log (spec.md I1: "every state transition produces exactly
// one decision row") and its corresponding trace entry.
func (c *Controller) recordTransition(ctx context.Context, taskID string, state State, actionType episodic.ActionType, status episodic.Status, content string, trace *[]TraceEntry) {
	if c.Memory != nil && c.Memory.Episodic != nil {
		if _, err := c.Memory.RecordDecision(ctx, taskID, actionType, content, status); err != nil {
			c.Logger.Warn("controller: record decision failed", zap.Error(err), zap.String("task_id", taskID))
		}
	}
	*trace = append(*trace, TraceEntry{
		ControllerState: string(state),
		EventType:       "transition",
		NodeType:        "fsm",
		Success:         status == episodic.StatusOK,
	})
}
