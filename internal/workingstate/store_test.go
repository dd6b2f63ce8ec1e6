package workingstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "working_state"), filepath.Join(dir, "archives"))
	require.NoError(t, err)
	return s
}

func TestCreateAndLoad(t *testing.T) {
	s := newTestStore(t)

	doc, err := s.CreateTask("task-abc123", "test goal", []string{"PLAN", "EXECUTE"})
	require.NoError(t, err)
	require.Equal(t, "INIT", doc.Status)

	loaded, err := s.Load("task-abc123")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "test goal", loaded.Goal)
}

func TestLoad_MissingReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Load("task-missing")
	require.NoError(t, err)
	require.Nil(t, doc)
}

func TestAppendMessage_CapsTranscript(t *testing.T) {
	s := newTestStore(t)
	s.transcriptCap = 3
	_, err := s.CreateTask("task-cap", "goal", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage("task-cap", RoleUser, "msg")
		require.NoError(t, err)
	}

	doc, err := s.Load("task-cap")
	require.NoError(t, err)
	require.Len(t, doc.Messages, 3)
}

func TestArchiveTask_MovesFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTask("task-arc", "goal", nil)
	require.NoError(t, err)

	doc, err := s.ArchiveTask("task-arc")
	require.NoError(t, err)
	require.Equal(t, "ARCHIVED", doc.Status)

	// No longer present in the working directory.
	_, err = os.Stat(filepath.Join(s.basePath, "task-arc.json"))
	require.True(t, os.IsNotExist(err))

	// Still present in the archive directory.
	_, err = os.Stat(filepath.Join(s.archivePath, "task-arc.json"))
	require.NoError(t, err)
}

func TestLoad_ReactivatesArchivedTask(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTask("task-arc", "goal", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage("task-arc", RoleUser, "my name is Alice")
	require.NoError(t, err)
	_, err = s.ArchiveTask("task-arc")
	require.NoError(t, err)

	// Resuming with the same task_id loads the archived transcript...
	doc, err := s.Load("task-arc")
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Len(t, doc.Messages, 1)
	require.Equal(t, "my name is Alice", doc.Messages[0].Content)

	// ...and reactivates it so the new turn can append to it.
	_, err = os.Stat(filepath.Join(s.archivePath, "task-arc.json"))
	require.True(t, os.IsNotExist(err))

	_, err = s.AppendMessage("task-arc", RoleUser, "what is my name?")
	require.NoError(t, err)

	reloaded, err := s.Load("task-arc")
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 2)
}

func TestSanitizeTaskID_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTask("../../etc/passwd", "goal", nil)
	require.NoError(t, err) // sanitized down to "etcpasswd", not an error

	path, err := s.workingFile("../../etc/passwd")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(s.basePath, "etcpasswd.json"), path)
}
