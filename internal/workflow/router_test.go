package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
)

func TestRouter_ClassifiesChatByDefault(t *testing.T) {
	n := NewRouterNode()
	wc := jarvisdag.Context{"user_input": "how are you today?"}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, IntentChat, out["intent"])
}

func TestRouter_ClassifiesCode(t *testing.T) {
	n := NewRouterNode()
	wc := jarvisdag.Context{"user_input": "fix this bug in my function"}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, IntentCode, out["intent"])
}

func TestRouter_ClassifiesFileOps(t *testing.T) {
	n := NewRouterNode()
	wc := jarvisdag.Context{"user_input": "please read the config file"}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, IntentFileOps, out["intent"])
}

func TestRouter_ClassifiesResearch(t *testing.T) {
	n := NewRouterNode()
	wc := jarvisdag.Context{"user_input": "please research the latest trends"}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, IntentResearch, out["intent"])
}

func TestRouter_FileOpsTakesPriorityOverCode(t *testing.T) {
	n := NewRouterNode()
	wc := jarvisdag.Context{"user_input": "read the file with the bug"}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, IntentFileOps, out["intent"])
}

func TestRouter_EmptyInputClassifiesChat(t *testing.T) {
	n := NewRouterNode()
	wc := jarvisdag.Context{}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, IntentChat, out["intent"])
}
