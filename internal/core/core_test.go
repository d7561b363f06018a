package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/internal/dispatch"
	"github.com/strand-ai/strand/internal/permission"
	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/pkg/types"
)

type editTool struct{}

func (editTool) Name() string                { return "edit" }
func (editTool) Description() string         { return "edits a file" }
func (editTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (editTool) Execute(ctx context.Context, args json.RawMessage, tctx *dispatch.Context) (*dispatch.Result, error) {
	return &dispatch.Result{Output: "edited"}, nil
}

func fastConfig() *types.Config {
	cfg := types.DefaultConfig()
	cfg.Retry = types.RetryConfig{
		MaxRetries:      0,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxElapsedTime:  time.Second,
	}
	return cfg
}

func TestCreateSessionRejectsUnknownParent(t *testing.T) {
	c := New(fastConfig(), provider.EchoTransport{}, Options{})
	defer c.Shutdown()

	ghost := "ghost"
	_, err := c.CreateSession(CreateSpec{ParentID: &ghost, Prompt: "x"})
	assert.Error(t, err)
}

func TestRootSessionLineage(t *testing.T) {
	c := New(fastConfig(), provider.EchoTransport{}, Options{})
	defer c.Shutdown()

	info, err := c.CreateSession(CreateSpec{Prompt: "hello"})
	require.NoError(t, err)

	assert.Equal(t, info.ID, info.RootID)
	assert.Nil(t, info.ParentID)
	assert.Equal(t, 0, info.Sequence)
	assert.False(t, info.IsParallel)

	// The echo transport completes immediately; the session disposes and
	// leaves the registry.
	require.Eventually(t, func() bool { return c.registry.Count() == 0 }, 5*time.Second, time.Millisecond)
}

// gatedParent creates a parent session that stops at an approval ask, so
// it stays active while the test builds children under it.
func gatedParent(t *testing.T, c *Core) types.SessionInfo {
	t.Helper()
	info, err := c.CreateSession(CreateSpec{Prompt: "parent task"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := c.asks.Pending(info.ID)
		return ok
	}, 5*time.Second, time.Millisecond)
	return info
}

func TestNestedChildPausesParentAndResumesOnDisposal(t *testing.T) {
	transport := provider.NewScriptedTransport(
		provider.ToolCallTurn("p1", "edit", map[string]string{"path": "a"}), // parent
		provider.CompletionTurn("ch1", "child finished"),                   // child
		provider.CompletionTurn("p2", "parent finished"),                   // parent, after resume
	)
	c := New(fastConfig(), transport, Options{
		Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
		Tools:  []dispatch.Tool{editTool{}},
	})
	defer c.Shutdown()

	parent := gatedParent(t, c)
	assert.Equal(t, 1, c.registry.StackDepth())

	child, err := c.CreateSession(CreateSpec{ParentID: &parent.ID, Prompt: "subtask"})
	require.NoError(t, err)

	assert.Equal(t, parent.ID, child.RootID, "child inherits the root lineage")
	assert.Equal(t, 1, child.Sequence)
	assert.Equal(t, 2, c.registry.StackDepth(), "nested child goes on the primary stack")

	// Child completes and disposes; the stack pops back to the parent.
	require.Eventually(t, func() bool { return c.registry.StackDepth() == 1 }, 5*time.Second, time.Millisecond)

	// The parent still has its ask; approving lets it run to completion.
	require.NoError(t, c.Respond(parent.ID, types.AskResponse{Approved: true}))
	require.Eventually(t, func() bool { return c.registry.Count() == 0 }, 5*time.Second, time.Millisecond)
}

func TestParallelChildDoesNotTouchStack(t *testing.T) {
	transport := provider.NewScriptedTransport(
		provider.ToolCallTurn("p1", "edit", map[string]string{"path": "a"}), // parent
		provider.CompletionTurn("ch1", "parallel child done"),              // child
	)
	c := New(fastConfig(), transport, Options{
		Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
		Tools:  []dispatch.Tool{editTool{}},
	})
	defer c.Shutdown()

	parent := gatedParent(t, c)

	child, err := c.CreateSession(CreateSpec{ParentID: &parent.ID, Parallel: true, Prompt: "side job"})
	require.NoError(t, err)

	assert.True(t, child.IsParallel)
	assert.Equal(t, 1, c.registry.StackDepth(), "parallel child stays off the primary stack")

	require.Eventually(t, func() bool {
		summary, err := c.GetSession(parent.ID)
		return err == nil && summary.State == types.StateAwaitingResponse
	}, 5*time.Second, time.Millisecond, "parent keeps running while the parallel child works")
}

func TestAbortSession(t *testing.T) {
	transport := provider.NewScriptedTransport(
		provider.ToolCallTurn("p1", "edit", map[string]string{"path": "a"}),
	)
	c := New(fastConfig(), transport, Options{
		Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
		Tools:  []dispatch.Tool{editTool{}},
	})
	defer c.Shutdown()

	parent := gatedParent(t, c)
	require.NoError(t, c.AbortSession(parent.ID))

	require.Eventually(t, func() bool { return c.registry.Count() == 0 }, 5*time.Second, time.Millisecond)
	assert.Zero(t, c.AskQueueStatus().Size, "abort withdraws the pending ask")

	assert.Error(t, c.AbortSession("missing"))
}

func TestActiveSessionsSummaries(t *testing.T) {
	transport := provider.NewScriptedTransport(
		provider.ToolCallTurn("p1", "edit", map[string]string{"path": "a"}),
	)
	c := New(fastConfig(), transport, Options{
		Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
		Tools:  []dispatch.Tool{editTool{}},
	})
	defer c.Shutdown()

	parent := gatedParent(t, c)

	active := c.ActiveSessions()
	require.Len(t, active, 1)
	assert.Equal(t, parent.ID, active[0].ID)
	require.NotNil(t, active[0].PendingAsk)
	assert.Equal(t, types.AskApproval, active[0].PendingAsk.Kind)
}

func TestMetricsFlowThroughCore(t *testing.T) {
	transport := provider.NewScriptedTransport(
		provider.ToolCallTurn("p1", "edit", map[string]string{"path": "a"}),
		provider.CompletionTurn("p2", "done"),
	)
	c := New(fastConfig(), transport, Options{
		Policy: permission.NewTablePolicy(nil, permission.ActionAsk),
		Tools:  []dispatch.Tool{editTool{}},
	})
	defer c.Shutdown()

	parent := gatedParent(t, c)
	require.NoError(t, c.Respond(parent.ID, types.AskResponse{Approved: true}))

	require.Eventually(t, func() bool { return c.Metrics().TotalAsks == 1 }, 5*time.Second, time.Millisecond)
}
