// Package provider defines the model transport boundary: one streamed
// request in, an ordered sequence of typed events out.
package provider

import (
	"context"
	"encoding/json"
)

// Transport opens streamed model requests. Implementations live outside
// the core (provider SDK adapters); the core only needs this shape.
type Transport interface {
	// OpenStream issues one model request and returns its event stream.
	// The stream must honor mid-flight cancellation via ctx.
	OpenStream(ctx context.Context, req *Request) (Stream, error)
}

// Stream is a pull-based sequence of events. Recv returns io.EOF when the
// stream is exhausted. Close releases the underlying transport.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// Request is a conversation snapshot plus generation parameters.
type Request struct {
	System      string     `json:"system,omitempty"`
	Messages    []*Message `json:"messages"`
	Tools       []ToolInfo `json:"tools,omitempty"`
	MaxTokens   int        `json:"maxTokens,omitempty"`
	Temperature float64    `json:"temperature,omitempty"`
}

// Message is the wire-level form of one conversation entry.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallID,omitempty"`
}

// ToolCall is a completed tool invocation in an assistant message.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolInfo describes a tool offered to the model.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// StreamEvent is one typed event in a model response stream. Events are
// monotonic in emission order.
type StreamEvent interface {
	streamEvent()
}

// TextDelta carries an increment of assistant text.
type TextDelta struct {
	Text string
}

func (TextDelta) streamEvent() {}

// ReasoningDelta carries an increment of extended thinking text.
type ReasoningDelta struct {
	Text string
}

func (ReasoningDelta) streamEvent() {}

// ToolCallDelta carries an incrementally built tool-call block. A block is
// provisional until a ToolCallEnd confirms it is complete.
type ToolCallDelta struct {
	CallID    string
	Name      string
	ArgsDelta string
}

func (ToolCallDelta) streamEvent() {}

// ToolCallEnd marks a tool-call block as complete and actionable.
type ToolCallEnd struct {
	CallID string
	Name   string
	Args   json.RawMessage
}

func (ToolCallEnd) streamEvent() {}

// UsageUpdate reports token accounting from the provider.
type UsageUpdate struct {
	InputTokens  int
	OutputTokens int
}

func (UsageUpdate) streamEvent() {}

// StreamEnd terminates a successful stream.
type StreamEnd struct {
	Reason string // "stop" | "tool_use" | "max_tokens"
}

func (StreamEnd) streamEvent() {}

// StreamError terminates a failed stream. Retryable marks transient
// transport failures (rate limits, connection resets).
type StreamError struct {
	Err       error
	Retryable bool
}

func (StreamError) streamEvent() {}

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishToolUse   = "tool_use"
	FinishMaxTokens = "max_tokens"
)

// CompletionToolName is the designated terminal tool call: the model emits
// it to signal the task is done instead of requesting another turn.
const CompletionToolName = "complete_task"

