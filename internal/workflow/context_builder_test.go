package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	jarvisdag "github.com/bentman/JARVISv5/internal/dag"
	"github.com/bentman/JARVISv5/internal/memmgr"
	"github.com/bentman/JARVISv5/internal/retrieval"
	"github.com/bentman/JARVISv5/internal/workingstate"

	jarviscache "github.com/bentman/JARVISv5/internal/cache"
)

func newTestWorkingStore(t *testing.T) *workingstate.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := workingstate.Open(dir+"/working", dir+"/archive")
	require.NoError(t, err)
	return store
}

func newTestCache(t *testing.T) *jarviscache.Cache {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return jarviscache.New(client, zaptest.NewLogger(t), true)
}

func TestContextBuilder_MissingMemoryManagerFailsSafe(t *testing.T) {
	n := NewContextBuilderNode(nil)
	wc := jarvisdag.Context{"task_id": "t1"}
	out := n.Execute(context.Background(), wc)
	require.Nil(t, out["working_state"])
	require.Equal(t, "memory_manager_missing", out["context_builder_error"])
}

func TestContextBuilder_MissingTaskIDFailsSafe(t *testing.T) {
	ws := newTestWorkingStore(t)
	n := NewContextBuilderNode(memmgr.New(nil, ws, nil))
	wc := jarvisdag.Context{}
	out := n.Execute(context.Background(), wc)
	require.Nil(t, out["working_state"])
	require.Equal(t, "task_id_missing", out["context_builder_error"])
}

func TestContextBuilder_LoadsWorkingStateOnMiss(t *testing.T) {
	ws := newTestWorkingStore(t)
	_, err := ws.CreateTask("t1", "goal", nil)
	require.NoError(t, err)
	_, err = ws.AppendMessage("t1", workingstate.RoleUser, "hello there")
	require.NoError(t, err)

	n := NewContextBuilderNode(memmgr.New(nil, ws, nil))
	wc := jarvisdag.Context{"task_id": "t1"}
	out := n.Execute(context.Background(), wc)

	require.Equal(t, false, out["cache_hit"])
	msgs := out["messages"].([]workingstate.Message)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello there", msgs[0].Content)

	doc, ok := out["working_state"].(*workingstate.Document)
	require.True(t, ok)
	require.Equal(t, "t1", doc.TaskID)
}

func TestContextBuilder_CacheMissThenHit(t *testing.T) {
	ws := newTestWorkingStore(t)
	_, err := ws.CreateTask("t1", "goal", nil)
	require.NoError(t, err)
	_, err = ws.AppendMessage("t1", workingstate.RoleUser, "first turn")
	require.NoError(t, err)

	c := newTestCache(t)
	n := NewContextBuilderNode(memmgr.New(nil, ws, nil))
	n.Cache = c
	n.CacheEnabled = true
	n.CacheTTL = time.Minute

	wc := jarvisdag.Context{"task_id": "t1", "turn": 1}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, false, out["cache_hit"])

	// append a message the cached entry won't reflect, to prove the
	// second call serves the cache rather than re-reading working state.
	_, err = ws.AppendMessage("t1", workingstate.RoleUser, "second turn, not cached")
	require.NoError(t, err)

	wc2 := jarvisdag.Context{"task_id": "t1", "turn": 1}
	out2 := n.Execute(context.Background(), wc2)
	require.Equal(t, true, out2["cache_hit"])
	msgs := out2["messages"].([]workingstate.Message)
	require.Len(t, msgs, 1)
	require.Equal(t, "first turn", msgs[0].Content)

	// working_state is still populated on a cache hit.
	doc, ok := out2["working_state"].(*workingstate.Document)
	require.True(t, ok)
	require.Equal(t, "t1", doc.TaskID)
}

func TestContextBuilder_CacheDisabledNeverWrites(t *testing.T) {
	ws := newTestWorkingStore(t)
	_, err := ws.CreateTask("t1", "goal", nil)
	require.NoError(t, err)

	c := newTestCache(t)
	n := NewContextBuilderNode(memmgr.New(nil, ws, nil))
	n.Cache = c
	n.CacheEnabled = false

	wc := jarvisdag.Context{"task_id": "t1", "turn": 1}
	out := n.Execute(context.Background(), wc)
	require.Equal(t, false, out["cache_hit"])

	key, err := jarviscache.NewKeyPolicy().BuildKey(CacheCategory, map[string]any{"task_id": "t1", "turn": 1})
	require.NoError(t, err)
	var cached map[string]any
	require.False(t, c.GetJSON(context.Background(), CacheCategory, key, &cached))
}

func TestContextBuilder_RetrievalInjectsSystemMessageAfterExistingSystemMessage(t *testing.T) {
	ws := newTestWorkingStore(t)
	_, err := ws.CreateTask("t1", "goal", nil)
	require.NoError(t, err)
	_, err = ws.AppendMessage("t1", workingstate.RoleSystem, "you are a helpful assistant")
	require.NoError(t, err)
	_, err = ws.AppendMessage("t1", workingstate.RoleUser, "tell me about widgets")
	require.NoError(t, err)

	mem := memmgr.New(nil, ws, nil)
	r, rerr := retrieval.New(mem, retrieval.DefaultConfig())
	require.Nil(t, rerr)

	n := NewContextBuilderNode(mem)
	n.Retriever = r
	n.RetrievalEnabled = true

	wc := jarvisdag.Context{"task_id": "t1", "user_input": "widgets"}
	out := n.Execute(context.Background(), wc)

	msgs := out["messages"].([]workingstate.Message)
	require.GreaterOrEqual(t, len(msgs), 3)
	require.Equal(t, string(workingstate.RoleSystem), msgs[0].Role)
	require.Equal(t, string(workingstate.RoleSystem), msgs[1].Role)
	require.Contains(t, msgs[1].Content, "Retrieved Context:")
	require.Contains(t, msgs[1].Content, "[working_state]")
}

func TestContextBuilder_RetrievalDisabledLeavesMessagesUnchanged(t *testing.T) {
	ws := newTestWorkingStore(t)
	_, err := ws.CreateTask("t1", "goal", nil)
	require.NoError(t, err)
	_, err = ws.AppendMessage("t1", workingstate.RoleUser, "tell me about widgets")
	require.NoError(t, err)

	n := NewContextBuilderNode(memmgr.New(nil, ws, nil))
	n.RetrievalEnabled = false

	wc := jarvisdag.Context{"task_id": "t1", "user_input": "widgets"}
	out := n.Execute(context.Background(), wc)

	msgs := out["messages"].([]workingstate.Message)
	require.Len(t, msgs, 1)
}

func TestContextBuilder_RetrievalFailSafeOnEmptyUserInput(t *testing.T) {
	ws := newTestWorkingStore(t)
	_, err := ws.CreateTask("t1", "goal", nil)
	require.NoError(t, err)
	_, err = ws.AppendMessage("t1", workingstate.RoleUser, "hi")
	require.NoError(t, err)

	mem := memmgr.New(nil, ws, nil)
	r, rerr := retrieval.New(mem, retrieval.DefaultConfig())
	require.Nil(t, rerr)

	n := NewContextBuilderNode(mem)
	n.Retriever = r
	n.RetrievalEnabled = true

	wc := jarvisdag.Context{"task_id": "t1"}
	out := n.Execute(context.Background(), wc)

	msgs := out["messages"].([]workingstate.Message)
	require.Len(t, msgs, 1)
}
