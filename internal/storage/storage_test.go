package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func TestSaveAndLoadMessages(t *testing.T) {
	s := newTestStore(t)

	errText := "file missing"
	messages := []*types.Message{
		{
			ID:        "m1",
			SessionID: "s1",
			Role:      types.RoleUser,
			Parts: []types.Part{
				&types.TextPart{ID: "p1", Type: "text", Text: "hello"},
			},
		},
		{
			ID:        "m2",
			SessionID: "s1",
			Role:      types.RoleAssistant,
			Parts: []types.Part{
				&types.ToolCallPart{ID: "p2", Type: "tool_call", CallID: "c1", Tool: "read", Input: json.RawMessage(`{"path":"x"}`)},
			},
		},
		{
			ID:        "m3",
			SessionID: "s1",
			Role:      types.RoleTool,
			Parts: []types.Part{
				&types.ToolResultPart{ID: "p3", Type: "tool_result", CallID: "c1", Tool: "read", Error: &errText},
			},
		},
	}

	require.NoError(t, s.SaveMessages("s1", messages))

	loaded, err := s.LoadMessages("s1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	assert.Equal(t, "hello", loaded[0].Text())

	calls := loaded[1].ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "read", calls[0].Tool)

	result, ok := loaded[2].Parts[0].(*types.ToolResultPart)
	require.True(t, ok)
	assert.True(t, result.IsError())
	assert.Equal(t, "file missing", *result.Error)
}

func TestLoadMissingSessionIsEmpty(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.LoadMessages("nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)

	parent := "parent-id"
	info := types.SessionInfo{
		ID:         "s1",
		InstanceID: "inst",
		ParentID:   &parent,
		RootID:     "root",
		Sequence:   2,
		IsParallel: true,
	}
	require.NoError(t, s.SaveInfo(info))

	loaded, err := s.LoadInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, info, loaded)

	_, err = s.LoadInfo("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndDeleteSessions(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveInfo(types.SessionInfo{ID: "a"}))
	require.NoError(t, s.SaveInfo(types.SessionInfo{ID: "b"}))

	ids, err := s.ListSessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, s.DeleteSession("a"))
	ids, err = s.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestWriteIsAtomic(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveMessages("s1", []*types.Message{{ID: "m1", Role: types.RoleUser}}))

	// No temp file left behind after a successful write.
	entries, err := os.ReadDir(filepath.Join(s.base, "sessions", "s1"))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp")
	}
}
