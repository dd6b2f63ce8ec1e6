package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bentman/JARVISv5/internal/jerr"
	"github.com/bentman/JARVISv5/internal/sandbox"
)

func newFileToolsRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(sandbox.Config{
		AllowedRoots: []string{root}, AllowWrite: true, AllowDelete: true,
		MaxReadBytes: 1_000_000, MaxWriteBytes: 1_000_000, MaxListEntries: 1_000,
	})
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, RegisterCoreFileTools(r, sb))
	return r, root
}

func TestFileTools_ReadFileRoundTripsThroughExecutor(t *testing.T) {
	r, root := newFileToolsRegistry(t)
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ex := NewExecutor(r, zap.NewNop())
	result, err := ex.Execute(context.Background(), ExecutionRequest{ToolName: "read_file", Payload: map[string]any{"path": path}})
	require.Nil(t, err)
	value := result.Value.(map[string]any)
	require.Equal(t, "hello", value["content"])
}

func TestFileTools_WriteFileDeniedWithoutAllowWriteSafe(t *testing.T) {
	r, root := newFileToolsRegistry(t)
	ex := NewExecutor(r, zap.NewNop())

	_, err := ex.Execute(context.Background(), ExecutionRequest{
		ToolName: "write_file", Payload: map[string]any{"path": filepath.Join(root, "b.txt"), "content": "x"},
	})
	require.True(t, jerr.Is(err, jerr.CodePermissionDenied))
}

func TestFileTools_WriteFileSucceedsWithAllowWriteSafe(t *testing.T) {
	r, root := newFileToolsRegistry(t)
	ex := NewExecutor(r, zap.NewNop())

	target := filepath.Join(root, "b.txt")
	_, err := ex.Execute(context.Background(), ExecutionRequest{
		ToolName: "write_file", Payload: map[string]any{"path": target, "content": "hi"}, AllowWriteSafe: true,
	})
	require.Nil(t, err)

	data, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	require.Equal(t, "hi", string(data))
}

func TestFileTools_SearchFilesDefaultsMaxResultsTo100(t *testing.T) {
	r, root := newFileToolsRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	ex := NewExecutor(r, zap.NewNop())
	result, err := ex.Execute(context.Background(), ExecutionRequest{
		ToolName: "search_files", Payload: map[string]any{"root": root, "pattern": "*.txt"},
	})
	require.Nil(t, err)
	value := result.Value.(map[string]any)
	matches := value["matches"].([]string)
	require.Equal(t, []string{"a.txt"}, matches)
}

func TestFileTools_SearchFilesRejectsOutOfRangeMaxResults(t *testing.T) {
	r, root := newFileToolsRegistry(t)

	ex := NewExecutor(r, zap.NewNop())
	_, err := ex.Execute(context.Background(), ExecutionRequest{
		ToolName: "search_files", Payload: map[string]any{"root": root, "pattern": "*.txt", "max_results": 5000},
	})
	require.True(t, jerr.Is(err, jerr.CodeValidationError))
}

func TestFileTools_DeleteFileRemovesUnderSandbox(t *testing.T) {
	r, root := newFileToolsRegistry(t)
	path := filepath.Join(root, "c.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ex := NewExecutor(r, zap.NewNop())
	_, err := ex.Execute(context.Background(), ExecutionRequest{
		ToolName: "delete_file", Payload: map[string]any{"path": path}, AllowWriteSafe: true,
	})
	require.Nil(t, err)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}
