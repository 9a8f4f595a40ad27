package memory

import (
	"context"
	"testing"

	"github.com/harun/recall/pkg/contextdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	tools map[string]ToolDefinition
	err   error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{tools: make(map[string]ToolDefinition)}
}

func (f *fakeExecutor) RegisterTool(def ToolDefinition) error {
	if f.err != nil {
		return f.err
	}
	f.tools[def.Name] = def
	return nil
}

func TestMemorySearchTool(t *testing.T) {
	ws := t.TempDir()
	remote := newFakeRemote()
	remote.searchResults = []contextdb.SearchResult{
		{URI: "ctx://workspaces/agent-1/memory/notes", Snippet: "snippet", Score: 0.8},
	}
	m := newTestManager(t, ws, remote)

	result, err := MemorySearch(context.Background(), m, MemorySearchParams{Query: "notes"})
	require.NoError(t, err)
	assert.Equal(t, "notes", result.Query)
	assert.Equal(t, 1, result.Count)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "memory/notes.md", result.Results[0].PathHint)

	_, err = MemorySearch(context.Background(), m, MemorySearchParams{})
	assert.ErrorContains(t, err, "query is required")
}

func TestMemoryReadTool(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "memory/notes.md", "one\ntwo\nthree")
	m := newTestManager(t, ws, newFakeRemote())

	result, err := MemoryRead(context.Background(), m, MemoryReadParams{Path: "memory/notes.md", Offset: 1, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, "memory/notes.md", result.Path)
	assert.Equal(t, "two", result.Content)

	_, err = MemoryRead(context.Background(), m, MemoryReadParams{})
	assert.ErrorContains(t, err, "path is required")
}

func TestMemorySyncTool(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "MEMORY.md", "# memory")
	remote := newFakeRemote()
	m := newTestManager(t, ws, remote)

	result, err := MemorySync(context.Background(), m, MemorySyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, remote.imports)
	require.NotNil(t, result.Status.LastSyncTime)
}

func TestMemoryStatusTool(t *testing.T) {
	ws := t.TempDir()
	m := newTestManager(t, ws, newFakeRemote())

	status, err := MemoryStatus(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", status.AgentID)
}

func TestRegisterMemoryTools(t *testing.T) {
	ws := t.TempDir()
	writeWorkspaceFile(t, ws, "memory/notes.md", "content")
	m := newTestManager(t, ws, newFakeRemote())

	executor := newFakeExecutor()
	require.NoError(t, RegisterMemoryTools(executor, m))

	for _, name := range []string{"memory_search", "memory_read", "memory_sync", "memory_status"} {
		assert.Contains(t, executor.tools, name)
	}

	// Handlers decode loosely-typed params the way the host passes them.
	readTool := executor.tools["memory_read"]
	out, err := readTool.Handler(context.Background(), map[string]interface{}{
		"path":  "memory/notes.md",
		"count": float64(1),
	})
	require.NoError(t, err)
	readResult, ok := out.(*MemoryReadResult)
	require.True(t, ok)
	assert.Equal(t, "content", readResult.Content)

	_, err = readTool.Handler(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestRegisterMemoryToolsPropagatesError(t *testing.T) {
	ws := t.TempDir()
	m := newTestManager(t, ws, newFakeRemote())

	executor := newFakeExecutor()
	executor.err = assert.AnError
	err := RegisterMemoryTools(executor, m)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
