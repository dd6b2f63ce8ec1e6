package dag

// PlanInput is what the Controller hands the compiler after PLAN
// classification (spec.md §4.11: "accepts {intent, has_tool_call, ...}").
type PlanInput struct {
	Intent      string
	HasToolCall bool
}

// Node ids for the fixed core workflow (spec.md §4.10). validator is
// deliberately excluded: the Controller invokes it directly in its
// VALIDATE state (spec.md §4.12 run() step 4), not as part of the
// compiled EXECUTE-phase graph.
const (
	NodeRouter         = "router"
	NodeContextBuilder = "context_builder"
	NodeToolCall       = "tool_call"
	NodeLLMWorker      = "llm_worker"
)

// CompilePlan produces the EXECUTE-phase workflow graph for one task.
// The core spec's graph is small and fixed: every intent runs the same
// router→context_builder→llm_worker chain, with tool_call spliced in
// between context_builder and llm_worker iff the caller supplied a tool
// call (spec.md §4.10's "runtime-only DAG augmentation"). Deterministic
// given input. Grounded on
// original_source/backend/workflow/plan_compiler.py's
// compile_plan_to_workflow_graph, generalized from its single static
// shape to the has_tool_call branch spec.md §4.11 calls for.
func CompilePlan(input PlanInput) Graph {
	if input.HasToolCall {
		return Graph{
			Nodes: []string{NodeRouter, NodeContextBuilder, NodeToolCall, NodeLLMWorker},
			Edges: []Edge{
				{From: NodeRouter, To: NodeContextBuilder},
				{From: NodeContextBuilder, To: NodeToolCall},
				{From: NodeToolCall, To: NodeLLMWorker},
			},
			Entry: NodeRouter,
		}
	}
	return Graph{
		Nodes: []string{NodeRouter, NodeContextBuilder, NodeLLMWorker},
		Edges: []Edge{
			{From: NodeRouter, To: NodeContextBuilder},
			{From: NodeContextBuilder, To: NodeLLMWorker},
		},
		Entry: NodeRouter,
	}
}
