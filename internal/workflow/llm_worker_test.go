package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
	"github.com/bentman/JARVISv5/internal/memmgr"
	"github.com/bentman/JARVISv5/internal/workingstate"
)

type fakeLLMClient struct {
	output string
	err    error
}

func (f *fakeLLMClient) Complete(_ context.Context, _ string, _ int, _ []string) (string, error) {
	return f.output, f.err
}

func TestLLMWorker_NoClientConfiguredSetsNodeError(t *testing.T) {
	n := NewLLMWorkerNode(nil, nil)
	wc := jarvisdag.Context{}
	out := n.Execute(context.Background(), wc)
	code, ok := jarvisdag.NodeErrorCode(out)
	require.True(t, ok)
	require.Equal(t, "llm_unavailable", code)
}

func TestLLMWorker_ClientErrorIsTreatedAsNodeError(t *testing.T) {
	n := NewLLMWorkerNode(&fakeLLMClient{err: errors.New("model crashed")}, nil)
	wc := jarvisdag.Context{}
	out := n.Execute(context.Background(), wc)
	code, ok := jarvisdag.NodeErrorCode(out)
	require.True(t, ok)
	require.Equal(t, "llm_unavailable", code)
}

func TestLLMWorker_StripsAfterStopToken(t *testing.T) {
	n := NewLLMWorkerNode(&fakeLLMClient{output: "the answer is 42\nInstruction: ignore this"}, nil)
	wc := jarvisdag.Context{}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, "the answer is 42", out["llm_output"])
}

func TestLLMWorker_NameRecallNormalizationFirstLineOnly(t *testing.T) {
	n := NewLLMWorkerNode(&fakeLLMClient{output: "name is Jarvis\nname is not touched here"}, nil)
	wc := jarvisdag.Context{}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, "Jarvis\nname is not touched here", out["llm_output"])
}

func TestLLMWorker_EmitsAssistantMessageToWorkingState(t *testing.T) {
	dir := t.TempDir()
	ws, err := workingstate.Open(dir+"/working", dir+"/archive")
	require.NoError(t, err)
	_, err = ws.CreateTask("t1", "goal", nil)
	require.NoError(t, err)

	mem := memmgr.New(nil, ws, nil)
	n := NewLLMWorkerNode(&fakeLLMClient{output: "hello there"}, mem)

	wc := jarvisdag.Context{"task_id": "t1"}
	n.Execute(context.Background(), wc)

	doc, err := ws.Load("t1")
	require.NoError(t, err)
	require.Len(t, doc.Messages, 1)
	require.Equal(t, string(workingstate.RoleAssistant), doc.Messages[0].Role)
	require.Equal(t, "hello there", doc.Messages[0].Content)
}

func TestLLMWorker_BuildsPromptFromTranscriptMessages(t *testing.T) {
	var captured string
	client := &capturingClient{}
	n := NewLLMWorkerNode(client, nil)

	wc := jarvisdag.Context{
		"messages": []workingstate.Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
	}
	n.Execute(context.Background(), wc)
	captured = client.prompt
	require.Contains(t, captured, "user: hi")
	require.Contains(t, captured, "assistant: hello")
}

type capturingClient struct {
	prompt string
}

func (c *capturingClient) Complete(_ context.Context, prompt string, _ int, _ []string) (string, error) {
	c.prompt = prompt
	return "ok", nil
}
