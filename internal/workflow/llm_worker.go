package workflow

import (
	"context"
	"regexp"
	"strings"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
	"github.com/bentman/JARVISv5/internal/memmgr"
	"github.com/bentman/JARVISv5/internal/workingstate"
)

// DefaultMaxCompletionTokens bounds a single llm_worker call absent an
// override.
const DefaultMaxCompletionTokens = 256

// DefaultStopTokens are the stop sequences applied to every completion
// (spec.md §4.10: "at minimum Instruction:, User:, end-of-turn markers").
var DefaultStopTokens = []string{"Instruction:", "User:", "<|endoftext|>", "<|im_end|>"}

// LLMClient is the injected capability llm_worker calls; the model
// runtime itself is out of scope (spec.md Non-goals: "local LLM runtime").
type LLMClient interface {
	Complete(ctx context.Context, prompt string, maxTokens int, stop []string) (string, error)
}

var nameIsPattern = regexp.MustCompile(`(?i)^\s*name is\s+(\S.*)$`)

// LLMWorkerNode calls the injected LLM client with a bounded prompt built
// from the task's transcript, post-processes the completion, and emits
// the assistant message to working state. Grounded on
// original_source/backend/workflow/nodes/llm_worker_node.py's
// call-then-set-llm_output shape, adapted from a direct llama_cpp.Llama
// call to an injected LLMClient capability, with spec.md §4.10's
// stop-token/post-processing contract layered on top.
type LLMWorkerNode struct {
	Client              LLMClient
	Memory              *memmgr.Manager
	MaxCompletionTokens int
	StopTokens          []string
}

// NewLLMWorkerNode returns a node bound to client and mem with spec
// defaults for completion cap and stop tokens.
func NewLLMWorkerNode(client LLMClient, mem *memmgr.Manager) *LLMWorkerNode {
	return &LLMWorkerNode{
		Client:              client,
		Memory:              mem,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		StopTokens:          DefaultStopTokens,
	}
}

func (n *LLMWorkerNode) ID() string { return jarvisdag.NodeLLMWorker }

func (n *LLMWorkerNode) Execute(ctx context.Context, wc jarvisdag.Context) jarvisdag.Context {
	if n.Client == nil {
		jarvisdag.SetNodeError(wc, "llm_unavailable", "no LLM client configured")
		return wc
	}

	prompt := buildPrompt(wc)
	maxTokens := n.MaxCompletionTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxCompletionTokens
	}
	stop := n.StopTokens
	if stop == nil {
		stop = DefaultStopTokens
	}

	raw, err := n.Client.Complete(ctx, prompt, maxTokens, stop)
	if err != nil {
		jarvisdag.SetNodeError(wc, "llm_unavailable", err.Error())
		return wc
	}

	output := postProcess(raw, stop)
	wc["llm_output"] = output

	taskID := stringField(wc, "task_id")
	if n.Memory != nil && taskID != "" && output != "" {
		if _, appendErr := n.Memory.AppendMessage(taskID, workingstate.RoleAssistant, output); appendErr != nil {
			wc["llm_worker_error"] = "append_message_failed"
		}
	}

	return wc
}

func buildPrompt(wc jarvisdag.Context) string {
	raw, ok := wc["messages"]
	if !ok {
		return stringField(wc, "user_input")
	}
	messages, ok := raw.([]workingstate.Message)
	if !ok || len(messages) == 0 {
		return stringField(wc, "user_input")
	}

	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// postProcess strips everything from the first stop-token occurrence
// onward, trims whitespace, then applies the name-recall normalization
// rule to the first non-empty line only (spec.md §9 Open Questions).
func postProcess(raw string, stop []string) string {
	trimmed := raw
	for _, token := range stop {
		if idx := strings.Index(trimmed, token); idx >= 0 {
			trimmed = trimmed[:idx]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return trimmed
	}

	lines := strings.SplitN(trimmed, "\n", 2)
	firstLine := strings.TrimSpace(lines[0])
	if firstLine != "" {
		if m := nameIsPattern.FindStringSubmatch(firstLine); m != nil {
			lines[0] = strings.TrimSpace(m[1])
		} else {
			lines[0] = firstLine
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
