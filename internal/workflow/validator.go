package workflow

import (
	"context"
	"strings"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
)

// DefaultMaxOutputChars bounds llm_output absent a config override
// (spec.md §9 Open Questions: "≤ N characters").
const DefaultMaxOutputChars = 8000

// ValidatorNode gate-keeps llm_output against contract violations: empty
// output, surfaced stop-token artifacts, oversized output, or forbidden
// tokens. Grounded on
// original_source/backend/workflow/nodes/validator_node.py's single
// non-empty check, generalized per spec.md §9's Open Question resolution
// that validator criteria are config-driven with sensible defaults.
type ValidatorNode struct {
	MaxOutputChars int
	StopTokens     []string
	ForbiddenWords []string
}

// NewValidatorNode returns a node with spec defaults and no forbidden
// words configured.
func NewValidatorNode() *ValidatorNode {
	return &ValidatorNode{
		MaxOutputChars: DefaultMaxOutputChars,
		StopTokens:     DefaultStopTokens,
	}
}

func (n *ValidatorNode) ID() string { return "validator" }

// Execute is invoked directly by the Controller during its VALIDATE
// transition, not as part of the compiled EXECUTE-phase graph (spec.md
// §4.12 run() step 4 is distinct from step 3's DAG run).
func (n *ValidatorNode) Execute(_ context.Context, wc jarvisdag.Context) jarvisdag.Context {
	output, _ := wc["llm_output"].(string)
	trimmed := strings.TrimSpace(output)

	if trimmed == "" {
		wc["is_valid"] = false
		jarvisdag.SetNodeError(wc, "validation_error", "llm_output is empty")
		return wc
	}

	maxChars := n.MaxOutputChars
	if maxChars <= 0 {
		maxChars = DefaultMaxOutputChars
	}
	if len(trimmed) > maxChars {
		wc["is_valid"] = false
		jarvisdag.SetNodeError(wc, "validation_error", "llm_output exceeds max size")
		return wc
	}

	for _, token := range n.StopTokens {
		if strings.Contains(trimmed, token) {
			wc["is_valid"] = false
			jarvisdag.SetNodeError(wc, "validation_error", "llm_output contains a surfaced stop-token artifact")
			return wc
		}
	}

	lowerOutput := strings.ToLower(trimmed)
	for _, word := range n.ForbiddenWords {
		if word == "" {
			continue
		}
		if strings.Contains(lowerOutput, strings.ToLower(word)) {
			wc["is_valid"] = false
			jarvisdag.SetNodeError(wc, "validation_error", "llm_output contains a forbidden token")
			return wc
		}
	}

	wc["is_valid"] = true
	return wc
}
