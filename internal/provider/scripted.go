package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// ScriptedTransport replays pre-built response turns in order. It backs
// development mode and tests; the embedding host supplies a real transport
// in production.
type ScriptedTransport struct {
	mu    sync.Mutex
	turns [][]StreamEvent
	next  int

	// OpenErrs are consumed before any turn is served, one per OpenStream
	// call, to exercise retry paths.
	OpenErrs []error
}

// NewScriptedTransport creates a transport that replays the given turns.
func NewScriptedTransport(turns ...[]StreamEvent) *ScriptedTransport {
	return &ScriptedTransport{turns: turns}
}

// AddTurn appends a response turn to the script.
func (t *ScriptedTransport) AddTurn(events ...StreamEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, events)
}

// Requests returns how many streams have been opened successfully.
func (t *ScriptedTransport) Requests() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// OpenStream implements Transport.
func (t *ScriptedTransport) OpenStream(ctx context.Context, req *Request) (Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.OpenErrs) > 0 {
		err := t.OpenErrs[0]
		t.OpenErrs = t.OpenErrs[1:]
		return nil, err
	}

	if t.next >= len(t.turns) {
		return nil, fmt.Errorf("script exhausted after %d turns", len(t.turns))
	}

	events := t.turns[t.next]
	t.next++

	return &scriptedStream{ctx: ctx, events: events}, nil
}

type scriptedStream struct {
	ctx    context.Context
	events []StreamEvent
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (StreamEvent, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// TextTurn builds a plain text response turn.
func TextTurn(text string) []StreamEvent {
	return []StreamEvent{
		TextDelta{Text: text},
		UsageUpdate{InputTokens: len(text) / 4, OutputTokens: len(text) / 4},
		StreamEnd{Reason: FinishStop},
	}
}

// ToolCallTurn builds a turn that invokes one tool.
func ToolCallTurn(callID, tool string, args any) []StreamEvent {
	raw, _ := json.Marshal(args)
	return []StreamEvent{
		ToolCallDelta{CallID: callID, Name: tool, ArgsDelta: string(raw)},
		ToolCallEnd{CallID: callID, Name: tool, Args: raw},
		StreamEnd{Reason: FinishToolUse},
	}
}

// CompletionTurn builds a turn that signals task completion.
func CompletionTurn(callID, result string) []StreamEvent {
	raw, _ := json.Marshal(map[string]string{"result": result})
	return []StreamEvent{
		ToolCallDelta{CallID: callID, Name: CompletionToolName, ArgsDelta: string(raw)},
		ToolCallEnd{CallID: callID, Name: CompletionToolName, Args: raw},
		StreamEnd{Reason: FinishToolUse},
	}
}
