package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/types"
)

// stubTool is a configurable tool for dispatcher tests.
type stubTool struct {
	name    string
	execute func(ctx context.Context, args json.RawMessage, tctx *Context) (*Result, error)
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage, tctx *Context) (*Result, error) {
	return s.execute(ctx, args, tctx)
}

func call(tool string) *types.ToolCallPart {
	return &types.ToolCallPart{ID: "p1", Type: "tool_call", CallID: "c1", Tool: tool, Input: json.RawMessage(`{}`)}
}

func newTestDispatcher(timeout time.Duration, tools ...Tool) *Dispatcher {
	reg := NewRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return NewDispatcher(reg, timeout, zerolog.Nop())
}

func TestDispatchSuccess(t *testing.T) {
	d := newTestDispatcher(time.Second, &stubTool{
		name: "echo",
		execute: func(ctx context.Context, args json.RawMessage, tctx *Context) (*Result, error) {
			return &Result{Output: "done"}, nil
		},
	})
	stats := NewStats()

	result := d.Dispatch(context.Background(), call("echo"), &Context{SessionID: "s1"}, stats)

	assert.False(t, result.IsError())
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, "c1", result.CallID)
	assert.Equal(t, types.ToolUsage{Success: 1}, stats.Get("echo"))
}

func TestDispatchToolErrorBecomesResult(t *testing.T) {
	d := newTestDispatcher(time.Second, &stubTool{
		name: "flaky",
		execute: func(ctx context.Context, args json.RawMessage, tctx *Context) (*Result, error) {
			return nil, errors.New("file not found")
		},
	})
	stats := NewStats()

	result := d.Dispatch(context.Background(), call("flaky"), &Context{}, stats)

	require.True(t, result.IsError())
	assert.Equal(t, "file not found", *result.Error)
	assert.Equal(t, types.ToolUsage{Error: 1}, stats.Get("flaky"))
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(time.Second)
	stats := NewStats()

	result := d.Dispatch(context.Background(), call("ghost"), &Context{}, stats)

	require.True(t, result.IsError())
	assert.Contains(t, *result.Error, "tool not found")
}

func TestDispatchTimeout(t *testing.T) {
	d := newTestDispatcher(20*time.Millisecond, &stubTool{
		name: "slow",
		execute: func(ctx context.Context, args json.RawMessage, tctx *Context) (*Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return &Result{Output: "too late"}, nil
			}
		},
	})
	stats := NewStats()

	result := d.Dispatch(context.Background(), call("slow"), &Context{}, stats)

	require.True(t, result.IsError())
	assert.Contains(t, *result.Error, "timed out")
}

func TestDispatchPanicIsContained(t *testing.T) {
	d := newTestDispatcher(time.Second, &stubTool{
		name: "boom",
		execute: func(ctx context.Context, args json.RawMessage, tctx *Context) (*Result, error) {
			panic("unexpected state")
		},
	})
	stats := NewStats()

	result := d.Dispatch(context.Background(), call("boom"), &Context{}, stats)

	require.True(t, result.IsError())
	assert.Contains(t, *result.Error, "tool panicked")
	assert.Equal(t, types.ToolUsage{Error: 1}, stats.Get("boom"))
}

func TestRegistryListPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		n := name
		reg.Register(&stubTool{name: n, execute: nil})
	}

	var names []string
	for _, tool := range reg.List() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}
