package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bentman/JARVISv5/internal/cache"
	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
	"github.com/bentman/JARVISv5/internal/memmgr"
	"github.com/bentman/JARVISv5/internal/retrieval"
	"github.com/bentman/JARVISv5/internal/workingstate"
)

// CacheCategory is the metrics/key-policy category this node's entries
// are filed under (spec.md §6: CONTEXT_CACHE_TTL_SECONDS).
const CacheCategory = "context"

// DefaultRetrievalMessageMaxChars bounds the injected Retrieved Context
// system message.
const DefaultRetrievalMessageMaxChars = 2000

// ContextBuilderNode loads the working-state transcript for the task,
// optionally serving/filling a turn-scoped cache entry, and optionally
// injects one Retrieved Context system message (spec.md §4.10).
// Grounded on
// original_source/backend/workflow/nodes/context_builder_node.py for
// the working-state-lookup shape and on
// tests/unit/test_context_builder_{cache,retrieval}.py for the
// cache-key/hit/miss contract and the "Retrieved Context:\n- [source]
// score=d.ddd content" injection format, since the checked-in node
// implementation predates both features the tests already exercise.
type ContextBuilderNode struct {
	Memory                   *memmgr.Manager
	Cache                    *cache.Cache
	CacheEnabled             bool
	CacheTTL                 time.Duration
	Keys                     cache.KeyPolicy
	Retriever                *retrieval.Retriever
	RetrievalEnabled         bool
	RetrievalMessageMaxChars int
	MaxWorkingStateMessages  int
}

// NewContextBuilderNode returns a node with spec.md §6's defaults;
// override fields directly or via the With* setters before use.
func NewContextBuilderNode(mem *memmgr.Manager) *ContextBuilderNode {
	return &ContextBuilderNode{
		Memory:                   mem,
		CacheTTL:                 1 * time.Hour,
		Keys:                     cache.NewKeyPolicy(),
		RetrievalMessageMaxChars: DefaultRetrievalMessageMaxChars,
		MaxWorkingStateMessages:  workingstate.DefaultTranscriptCap,
	}
}

func (n *ContextBuilderNode) ID() string { return jarvisdag.NodeContextBuilder }

func (n *ContextBuilderNode) Execute(ctx context.Context, wc jarvisdag.Context) jarvisdag.Context {
	taskID := stringField(wc, "task_id")

	if n.Memory == nil || n.Memory.Working == nil {
		wc["working_state"] = nil
		wc["context_builder_error"] = "memory_manager_missing"
		return wc
	}
	if taskID == "" {
		wc["working_state"] = nil
		wc["context_builder_error"] = "task_id_missing"
		return wc
	}

	turn := intField(wc, "turn")
	cacheKey, keyErr := n.Keys.BuildKey(CacheCategory, map[string]any{"task_id": taskID, "turn": turn})

	if n.CacheEnabled && n.Cache != nil && keyErr == nil {
		var cached struct {
			Messages []workingstate.Message `json:"messages"`
		}
		if n.Cache.GetJSON(ctx, CacheCategory, cacheKey, &cached) {
			wc["messages"] = cached.Messages
			wc["cache_hit"] = true
			wc["working_state"] = n.loadWorkingState(taskID, wc)
			return wc
		}
	}

	doc := n.loadWorkingState(taskID, wc)
	wc["working_state"] = doc
	wc["cache_hit"] = false

	var messages []workingstate.Message
	if doc != nil {
		messages = doc.Messages
	}

	n.injectRetrievedContext(ctx, wc, &messages, taskID)
	wc["messages"] = messages

	if n.CacheEnabled && n.Cache != nil && keyErr == nil {
		n.Cache.SetJSON(ctx, CacheCategory, cacheKey, map[string]any{"messages": messages}, n.CacheTTL)
	}

	return wc
}

func (n *ContextBuilderNode) loadWorkingState(taskID string, wc jarvisdag.Context) *workingstate.Document {
	doc, err := n.Memory.Working.Load(taskID)
	if err != nil {
		wc["context_builder_error"] = "working_state_load_error"
		return nil
	}
	return doc
}

// injectRetrievedContext inserts a single Retrieved Context system
// message after the first existing system message (or at position 0 if
// none). Fail-safe per spec.md §4.10: any problem leaves messages
// untouched.
func (n *ContextBuilderNode) injectRetrievedContext(ctx context.Context, wc jarvisdag.Context, messages *[]workingstate.Message, taskID string) {
	if !n.RetrievalEnabled || n.Retriever == nil {
		return
	}
	query := strings.TrimSpace(stringField(wc, "user_input"))
	if query == "" {
		return
	}

	results, rerr := n.Retriever.Retrieve(ctx, query, taskID)
	if rerr != nil || len(results) == 0 {
		return
	}

	block := formatRetrievedContext(results)
	maxChars := n.RetrievalMessageMaxChars
	if maxChars <= 0 {
		maxChars = DefaultRetrievalMessageMaxChars
	}
	if len(block) > maxChars {
		block = block[:maxChars]
	}

	insertAt := 0
	for i, msg := range *messages {
		if msg.Role == string(workingstate.RoleSystem) {
			insertAt = i + 1
			break
		}
	}

	injected := workingstate.Message{Role: string(workingstate.RoleSystem), Content: block}
	next := make([]workingstate.Message, 0, len(*messages)+1)
	next = append(next, (*messages)[:insertAt]...)
	next = append(next, injected)
	next = append(next, (*messages)[insertAt:]...)
	*messages = next
}

func formatRetrievedContext(results []retrieval.Result) string {
	var b strings.Builder
	b.WriteString("Retrieved Context:")
	for _, r := range results {
		fmt.Fprintf(&b, "\n- [%s] score=%.3f %s", r.Source, r.Final, r.Content)
	}
	return b.String()
}

func intField(wc jarvisdag.Context, key string) int {
	switch v := wc[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
