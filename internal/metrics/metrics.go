// Package metrics exposes the Prometheus collectors for the core. cmd/jarvisd
// serves them on /metrics; the collectors themselves are package-level so any
// internal package can record against them without threading a registry
// through constructors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_tasks_run_total",
			Help: "Total number of controller.Run invocations by final state",
		},
		[]string{"final_state"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jarvis_task_duration_seconds",
			Help:    "End-to-end duration of a controller.Run call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"final_state"},
	)

	NodeExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_node_executions_total",
			Help: "Total number of DAG node executions by node id and outcome",
		},
		[]string{"node_id", "outcome"},
	)

	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jarvis_node_duration_seconds",
			Help:    "DAG node execution duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_id"},
	)

	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_tool_executions_total",
			Help: "Total number of tool executions by tool name and outcome",
		},
		[]string{"tool_name", "outcome"},
	)

	ToolCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_tool_cache_hits_total",
			Help: "Total number of tool executions served from cache",
		},
		[]string{"tool_name"},
	)

	RetrievalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jarvis_retrieval_latency_seconds",
			Help:    "Hybrid retriever query latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	SandboxDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_sandbox_denials_total",
			Help: "Total number of sandbox operations denied, by reason",
		},
		[]string{"reason"},
	)
)

// RecordTask records the outcome and duration of one controller.Run call.
func RecordTask(finalState string, durationSeconds float64) {
	TasksRun.WithLabelValues(finalState).Inc()
	TaskDuration.WithLabelValues(finalState).Observe(durationSeconds)
}

// RecordNode records the outcome and duration of one DAG node execution.
func RecordNode(nodeID, outcome string, durationSeconds float64) {
	NodeExecutions.WithLabelValues(nodeID, outcome).Inc()
	NodeDuration.WithLabelValues(nodeID).Observe(durationSeconds)
}

// RecordTool records the outcome of one tool execution, and separately
// tallies cache hits since those skip the handler entirely.
func RecordTool(toolName, outcome string, cacheHit bool) {
	ToolExecutions.WithLabelValues(toolName, outcome).Inc()
	if cacheHit {
		ToolCacheHits.WithLabelValues(toolName).Inc()
	}
}
