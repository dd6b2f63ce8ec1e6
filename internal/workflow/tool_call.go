package workflow

import (
	"context"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
	"github.com/bentman/JARVISv5/internal/tools"
)

// ToolCallNode dispatches one runtime-supplied tool call through the Tool
// Registry's permission-gated Executor. Grounded on
// original_source/backend/workflow/nodes/tool_call_node.py's validation
// chain (tool_call presence, tool_name, payload shape), adapted to Go's
// tools.Executor/tools.ExecutionRequest contract; sandbox and permission
// gating are pre-wired into the Executor (spec.md §5: the sandbox is
// immutable/shareable per task) rather than rebuilt per call as the
// original does.
type ToolCallNode struct {
	Executor       *tools.Executor
	AllowWriteSafe bool
	AllowExternal  bool
}

// NewToolCallNode returns a node bound to executor.
func NewToolCallNode(executor *tools.Executor) *ToolCallNode {
	return &ToolCallNode{Executor: executor}
}

func (n *ToolCallNode) ID() string { return jarvisdag.NodeToolCall }

// Execute reads the tool_call request from the working context and
// records its outcome without setting node_error: a failed tool call is
// reported in-context (tool_ok=false) so the graph can still reach
// llm_worker and let the model react to the failure, matching the
// original's tool_ok/tool_result contract.
func (n *ToolCallNode) Execute(ctx context.Context, wc jarvisdag.Context) jarvisdag.Context {
	taskID := stringField(wc, "task_id")

	raw, ok := wc["tool_call"]
	if !ok {
		wc["tool_ok"] = false
		wc["tool_call_status"] = "missing_tool_call"
		return wc
	}
	call, ok := raw.(map[string]any)
	if !ok {
		wc["tool_ok"] = false
		wc["tool_call_status"] = "invalid_tool_call_shape"
		return wc
	}

	toolName, _ := call["tool_name"].(string)
	if toolName == "" {
		wc["tool_ok"] = false
		wc["tool_call_status"] = "missing_tool_name"
		return wc
	}

	payload, _ := call["payload"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	if n.Executor == nil {
		wc["tool_ok"] = false
		wc["tool_name"] = toolName
		wc["tool_call_status"] = "executor_unavailable"
		return wc
	}

	correlationID, _ := call["correlation_id"].(string)

	result, err := n.Executor.Execute(ctx, tools.ExecutionRequest{
		ToolName:       toolName,
		Payload:        payload,
		AllowWriteSafe: n.AllowWriteSafe,
		AllowExternal:  n.AllowExternal,
		TaskID:         taskID,
		CorrelationID:  correlationID,
	})

	wc["tool_name"] = toolName
	if err != nil {
		wc["tool_ok"] = false
		wc["tool_call_status"] = string(err.Code)
		wc["tool_result"] = map[string]any{"error": err.Message}
		if cid, ok := err.Details["correlation_id"].(string); ok {
			wc["tool_call_id"] = cid
		}
		return wc
	}

	wc["tool_ok"] = result.OK
	wc["tool_call_status"] = "ok"
	wc["tool_result"] = result
	wc["tool_call_id"] = result.CorrelationID
	return wc
}
