package workflow

import (
	"context"
	"strings"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
)

// Intent tags the router can assign (spec.md §4.10).
const (
	IntentChat     = "chat"
	IntentCode     = "code"
	IntentFileOps  = "file_ops"
	IntentResearch = "research"
)

var (
	codeKeywords     = []string{"code", "function", "bug", "compile", "program", "script", "refactor", "stack trace", "exception"}
	fileOpsKeywords  = []string{"file", "directory", "folder", "path", "read the", "write a file", "delete the", "list the", "save to"}
	researchKeywords = []string{"research", "investigate", "look up", "find information", "what is the latest", "summarize the news", "search for"}
)

// RouterNode classifies user_input into an intent tag with a
// deterministic keyword-rule classifier (spec.md §4.10: "not LLM-driven
// at this tier"). Grounded on
// original_source/backend/workflow/nodes/router_node.py's single
// code-vs-chat rule, generalized to the spec's four-way intent set.
type RouterNode struct{}

// NewRouterNode returns a stateless router.
func NewRouterNode() *RouterNode { return &RouterNode{} }

func (n *RouterNode) ID() string { return jarvisdag.NodeRouter }

func (n *RouterNode) Execute(_ context.Context, wc jarvisdag.Context) jarvisdag.Context {
	userInput := stringField(wc, "user_input")
	wc["intent"] = classifyIntent(userInput)
	return wc
}

func classifyIntent(userInput string) string {
	lower := strings.ToLower(userInput)
	switch {
	case containsAny(lower, fileOpsKeywords):
		return IntentFileOps
	case containsAny(lower, codeKeywords):
		return IntentCode
	case containsAny(lower, researchKeywords):
		return IntentResearch
	default:
		return IntentChat
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func stringField(wc jarvisdag.Context, key string) string {
	v, ok := wc[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
