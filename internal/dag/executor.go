package dag

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bentman/JARVISv5/internal/jerr"
	"github.com/bentman/JARVISv5/internal/metrics"
	"github.com/bentman/JARVISv5/internal/tracing"
)

// Node is one workflow step. Execute never panics or returns an error
// to its caller; a failing node records {node_error, message} on the
// returned Context instead (spec.md §4.10).
type Node interface {
	ID() string
	Execute(ctx context.Context, wc Context) Context
}

// EventType enumerates the three trace-event kinds a node execution can
// emit (spec.md §4.11).
type EventType string

const (
	EventStart EventType = "start"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// TraceEvent is one node lifecycle entry in the execution trace. The
// Controller wraps these with its own controller_state before
// persisting them (spec.md §4.12).
type TraceEvent struct {
	NodeID        string
	NodeType      string
	EventType     EventType
	Success       bool
	ElapsedNS     int64
	StartOffsetNS int64
	ErrorCode     string
}

// Executor runs a validated Graph against a node registry, sequentially,
// in topological order (spec.md §5: "Execution is sequential in the
// core spec").
type Executor struct{}

// NewExecutor returns a stateless DAG executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// TopologicalOrder computes Kahn's-algorithm order over g, deduplicating
// edges first. Ties are broken by node id ascending (spec.md §5).
// Returns cycle_detected if the graph cannot be fully ordered.
func (e *Executor) TopologicalOrder(g Graph) ([]string, *jerr.Error) {
	edges := dedupEdges(g.Edges)

	adjacency := make(map[string][]string, len(g.Nodes))
	indegree := make(map[string]int, len(g.Nodes))
	for _, id := range g.Nodes {
		indegree[id] = 0
	}
	for _, edge := range edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		indegree[edge.To]++
	}
	for from := range adjacency {
		sort.Strings(adjacency[from])
	}

	queue := make([]string, 0, len(g.Nodes))
	for _, id := range g.Nodes {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	ordered := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, id)

		next := make([]string, 0)
		for _, downstream := range adjacency[id] {
			indegree[downstream]--
			if indegree[downstream] == 0 {
				next = append(next, downstream)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
		sort.Strings(queue)
	}

	if len(ordered) != len(g.Nodes) {
		return nil, jerr.New(jerr.CodeCycleDetected, "workflow graph contains a cycle")
	}
	return ordered, nil
}

// Execute validates g, resolves its execution order, and runs each node
// in turn, stopping at the first node_error (spec.md §4.11). It always
// returns whatever trace was accumulated, even on failure.
func (e *Executor) Execute(ctx context.Context, g Graph, registry map[string]Node, wc Context) (Context, []TraceEvent, *jerr.Error) {
	if err := validate(g, registry); err != nil {
		return wc, nil, err
	}
	order, err := e.TopologicalOrder(g)
	if err != nil {
		return wc, nil, err
	}

	start := time.Now()
	trace := make([]TraceEvent, 0, len(order)*2)

	for _, nodeID := range order {
		node := registry[nodeID]
		nodeStart := time.Now()
		startOffset := nodeStart.Sub(start).Nanoseconds()

		trace = append(trace, TraceEvent{
			NodeID: nodeID, NodeType: nodeID, EventType: EventStart,
			Success: true, StartOffsetNS: startOffset,
		})

		nodeCtx, span := tracing.StartSpan(ctx, "node."+nodeID)
		span.SetAttributes(attribute.String("jarvis.node_id", nodeID))
		wc = node.Execute(nodeCtx, wc)
		elapsed := time.Since(nodeStart).Nanoseconds()

		if code, failed := NodeErrorCode(wc); failed {
			span.SetStatus(codes.Error, code)
			span.SetAttributes(attribute.String("jarvis.node_error_code", code))
			span.End()
			metrics.RecordNode(nodeID, "error", time.Duration(elapsed).Seconds())
			trace = append(trace, TraceEvent{
				NodeID: nodeID, NodeType: nodeID, EventType: EventError,
				Success: false, ElapsedNS: elapsed, StartOffsetNS: startOffset, ErrorCode: code,
			})
			return wc, trace, nil
		}
		span.SetStatus(codes.Ok, "")
		span.End()
		metrics.RecordNode(nodeID, "ok", time.Duration(elapsed).Seconds())

		trace = append(trace, TraceEvent{
			NodeID: nodeID, NodeType: nodeID, EventType: EventEnd,
			Success: true, ElapsedNS: elapsed, StartOffsetNS: startOffset,
		})
	}

	return wc, trace, nil
}
