// Package dag implements the workflow DAG Executor & Plan Compiler
// (spec.md §4.11): a small, acyclic node graph compiled per intent and
// executed in topological order, emitting one trace event per node.
// Grounded on original_source/backend/workflow/{dag_executor,plan_compiler}.py
// for the graph shape, Kahn's-algorithm topological sort, and
// validate-before-execute ordering.
package dag

import "github.com/bentman/JARVISv5/internal/jerr"

// Context is the mutable state threaded through a node execution
// (spec.md §4.10: "nodes are pure with respect to the context map they
// receive, except for well-defined calls into Memory Manager, Cache, or
// Tool Executor"). It is never nil once passed to a node.
type Context map[string]any

// NodeError is set on a Context by a failing node (spec.md §4.10:
// "errors become {node_error: code, message} on the context").
const (
	KeyNodeError        = "node_error"
	KeyNodeErrorMessage = "node_error_message"
)

// SetNodeError records a failing node outcome on the context in the
// spec's flat {node_error, message} shape.
func SetNodeError(wc Context, code, message string) {
	wc[KeyNodeError] = code
	wc[KeyNodeErrorMessage] = message
}

// NodeErrorCode returns the node_error code set on wc, if any.
func NodeErrorCode(wc Context) (string, bool) {
	code, ok := wc[KeyNodeError].(string)
	return code, ok
}

// Edge is one directed node→node dependency.
type Edge struct {
	From string
	To   string
}

// Graph is a compiled workflow graph: a fixed node set, its edges, and
// the entry node (spec.md §4.11).
type Graph struct {
	Nodes []string
	Edges []Edge
	Entry string
}

// dedupEdges drops duplicate (from,to) pairs, preserving first-seen
// order (spec.md §4.11: "Edges with duplicate (from,to) are
// deduplicated").
func dedupEdges(edges []Edge) []Edge {
	seen := make(map[Edge]bool, len(edges))
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// validate checks graph well-formedness against a node registry before
// any execution is attempted: non-empty node set, a known entry, every
// node implemented, and every edge referencing known nodes.
func validate(g Graph, registry map[string]Node) *jerr.Error {
	if len(g.Nodes) == 0 {
		return jerr.New(jerr.CodeConfigurationError, "workflow graph must contain at least one node")
	}

	nodeSet := make(map[string]bool, len(g.Nodes))
	for _, id := range g.Nodes {
		nodeSet[id] = true
	}

	if !nodeSet[g.Entry] {
		return jerr.New(jerr.CodeConfigurationError, "workflow entry node not found").
			WithDetails(map[string]any{"entry": g.Entry})
	}

	missing := make([]string, 0)
	for _, id := range g.Nodes {
		if _, ok := registry[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return jerr.New(jerr.CodeConfigurationError, "missing node implementations").
			WithDetails(map[string]any{"nodes": missing})
	}

	for _, e := range g.Edges {
		if !nodeSet[e.From] {
			return jerr.New(jerr.CodeConfigurationError, "edge references unknown node").
				WithDetails(map[string]any{"node": e.From})
		}
		if !nodeSet[e.To] {
			return jerr.New(jerr.CodeConfigurationError, "edge references unknown node").
				WithDetails(map[string]any{"node": e.To})
		}
	}
	return nil
}
