package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/strand-ai/strand/pkg/types"
)

// Stats accumulates per-tool success and error counts for one session.
// The session loop writes; summaries may read from other goroutines.
type Stats struct {
	mu    sync.Mutex
	usage map[string]types.ToolUsage
}

// NewStats creates an empty stats accumulator.
func NewStats() *Stats {
	return &Stats{usage: make(map[string]types.ToolUsage)}
}

// Record counts one execution outcome.
func (s *Stats) Record(tool string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage[tool]
	if ok {
		u.Success++
	} else {
		u.Error++
	}
	s.usage[tool] = u
}

// Snapshot returns a copy of the usage map.
func (s *Stats) Snapshot() map[string]types.ToolUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.ToolUsage, len(s.usage))
	for k, v := range s.usage {
		out[k] = v
	}
	return out
}

// Get returns the usage for one tool.
func (s *Stats) Get(tool string) types.ToolUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[tool]
}

// Dispatcher executes completed tool-call blocks against the registry.
// Every outcome — success, tool error, timeout, panic, unknown tool — is
// normalized into a ToolResultPart so the conversation loop never sees an
// unhandled fault.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher with a bounded per-execution timeout.
func NewDispatcher(registry *Registry, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, timeout: timeout, log: log}
}

// Registry returns the underlying tool registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs one tool call and records the outcome into stats. The
// returned part always has Error set on failure; Dispatch itself never
// fails.
func (d *Dispatcher) Dispatch(ctx context.Context, call *types.ToolCallPart, tctx *Context, stats *Stats) *types.ToolResultPart {
	start := time.Now()
	result := &types.ToolResultPart{
		ID:     ulid.Make().String(),
		Type:   "tool_result",
		CallID: call.CallID,
		Tool:   call.Tool,
	}

	output, err := d.execute(ctx, call, tctx)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		msg := err.Error()
		result.Error = &msg
		stats.Record(call.Tool, false)
		d.log.Warn().Str("tool", call.Tool).Str("call", call.CallID).Err(err).Msg("tool execution failed")
		return result
	}

	result.Output = output
	stats.Record(call.Tool, true)
	d.log.Debug().Str("tool", call.Tool).Str("call", call.CallID).Int64("ms", result.DurationMs).Msg("tool executed")
	return result
}

// execute runs the tool with a bounded timeout and panic containment.
func (d *Dispatcher) execute(ctx context.Context, call *types.ToolCallPart, tctx *Context) (output string, err error) {
	tool, ok := d.registry.Get(call.Tool)
	if !ok {
		return "", fmt.Errorf("tool not found: %s", call.Tool)
	}

	execCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	result, err := tool.Execute(execCtx, call.Input, tctx)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tool %s timed out after %s", call.Tool, d.timeout)
		}
		return "", err
	}

	return result.Output, nil
}
