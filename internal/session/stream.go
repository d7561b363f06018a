package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/strand-ai/strand/internal/dispatch"
	"github.com/strand-ai/strand/internal/event"
	"github.com/strand-ai/strand/internal/executor"
	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/pkg/types"
)

// completionParams is the JSON Schema for the designated completion tool.
var completionParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"result": {
			"type": "string",
			"description": "Final summary of what was accomplished"
		}
	},
	"required": ["result"]
}`)

// requestTurn issues one model request and assembles the streamed events
// into an assistant message. On late failure or cancellation the partial
// message is returned alongside the error, marked truncated; content
// received before the failure is never discarded.
func (s *Session) requestTurn(ctx context.Context) (*types.Message, error) {
	req := &provider.Request{
		System:      s.deps.SystemPrompt,
		Messages:    wireMessages(s.hist.Messages()),
		Tools:       s.toolInfos(),
		MaxTokens:   s.deps.Config.MaxOutputTokens,
		Temperature: s.deps.Config.Temperature,
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.streamCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.streamCancel = nil
		s.mu.Unlock()
		cancel()
	}()

	stream := s.deps.Executor.Execute(runCtx, req)
	return s.consumeStream(stream)
}

// toolBuilder accumulates a provisional tool-call block. The block is not
// actionable until ToolCallEnd confirms it complete; an interrupted
// stream drops unconfirmed builders.
type toolBuilder struct {
	callID string
	name   string
	args   []byte
}

// consumeStream folds executor events into an assistant message. The
// session presents as soon as the first content event arrives.
func (s *Session) consumeStream(stream *executor.Stream) (*types.Message, error) {
	messageID := ulid.Make().String()

	var (
		parts      []types.Part
		curText    *types.TextPart
		curReason  *types.ReasoningPart
		pending    = make(map[string]*toolBuilder)
		usage      *types.TokenUsage
		streamErr  error
		presenting bool
	)

	present := func() {
		if !presenting {
			presenting = true
			s.setState(types.StatePresenting)
		}
	}

	for ev := range stream.Events() {
		switch ev := ev.(type) {
		case provider.TextDelta:
			present()
			curReason = nil
			if curText == nil {
				curText = &types.TextPart{ID: ulid.Make().String(), Type: "text"}
				parts = append(parts, curText)
			}
			curText.Text += ev.Text
			s.publishPart(messageID, curText, ev.Text)

		case provider.ReasoningDelta:
			present()
			curText = nil
			if curReason == nil {
				curReason = &types.ReasoningPart{ID: ulid.Make().String(), Type: "reasoning"}
				parts = append(parts, curReason)
			}
			curReason.Text += ev.Text
			s.publishPart(messageID, curReason, ev.Text)

		case provider.ToolCallDelta:
			present()
			curText, curReason = nil, nil
			b, ok := pending[ev.CallID]
			if !ok {
				b = &toolBuilder{callID: ev.CallID}
				pending[ev.CallID] = b
			}
			if ev.Name != "" {
				b.name = ev.Name
			}
			b.args = append(b.args, ev.ArgsDelta...)

		case provider.ToolCallEnd:
			present()
			delete(pending, ev.CallID)
			part := finalizeToolCall(ev)
			parts = append(parts, part)
			s.publishPart(messageID, part, "")

		case provider.UsageUpdate:
			usage = &types.TokenUsage{Input: ev.InputTokens, Output: ev.OutputTokens}

		case provider.StreamEnd:
			// Terminal; channel closes next.

		case provider.StreamError:
			streamErr = ev.Err
		}
	}

	if streamErr != nil && len(parts) == 0 {
		return nil, streamErr
	}

	msg := &types.Message{
		ID:        messageID,
		SessionID: s.info.ID,
		Role:      types.RoleAssistant,
		Parts:     parts,
		Time:      types.MessageTime{Created: nowMilli()},
		Tokens:    usage,
		// An abort can end the stream without a terminal error event, so
		// the truncation marker also consults the abort flag.
		Truncated: streamErr != nil || s.isAborted(),
	}
	return msg, streamErr
}

// finalizeToolCall turns a confirmed tool-call block into its message
// part. The designated completion tool becomes a CompletionPart instead
// of an executable call.
func finalizeToolCall(ev provider.ToolCallEnd) types.Part {
	if ev.Name == provider.CompletionToolName {
		var args struct {
			Result string `json:"result"`
		}
		_ = json.Unmarshal(ev.Args, &args)
		return &types.CompletionPart{
			ID:     ulid.Make().String(),
			Type:   "completion",
			Result: args.Result,
		}
	}
	return &types.ToolCallPart{
		ID:     ulid.Make().String(),
		Type:   "tool_call",
		CallID: ev.CallID,
		Tool:   ev.Name,
		Input:  ev.Args,
	}
}

func (s *Session) publishPart(messageID string, part types.Part, delta string) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(event.Event{
		Type: event.PartUpdated,
		Data: event.PartUpdatedData{
			SessionID: s.info.ID,
			MessageID: messageID,
			Part:      part,
			Delta:     delta,
		},
	})
}

// toolInfos lists the registered tools plus the designated completion
// tool the model calls to end the task.
func (s *Session) toolInfos() []provider.ToolInfo {
	var infos []provider.ToolInfo
	if s.deps.Dispatcher != nil {
		for _, t := range s.deps.Dispatcher.Registry().List() {
			infos = append(infos, provider.ToolInfo{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			})
		}
	}
	infos = append(infos, provider.ToolInfo{
		Name:        provider.CompletionToolName,
		Description: "Signal that the task is complete. Call this exactly once, when no further work remains.",
		Parameters:  completionParams,
	})
	return infos
}

func (s *Session) toolContext(messageID string, call *types.ToolCallPart) *dispatch.Context {
	return &dispatch.Context{
		SessionID: s.info.ID,
		MessageID: messageID,
		CallID:    call.CallID,
		WorkDir:   s.deps.WorkDir,
	}
}

// wireMessages converts history messages into the transport form. Parts
// that carry no model-visible content (summaries render as text,
// completions as a closing note) are flattened accordingly.
func wireMessages(msgs []*types.Message) []*provider.Message {
	var out []*provider.Message
	for _, msg := range msgs {
		switch msg.Role {
		case types.RoleTool:
			for _, part := range msg.Parts {
				res, ok := part.(*types.ToolResultPart)
				if !ok {
					continue
				}
				content := res.Output
				if res.Error != nil {
					content = "Error: " + *res.Error
				}
				out = append(out, &provider.Message{
					Role:       types.RoleTool,
					Content:    content,
					ToolCallID: res.CallID,
				})
			}

		case types.RoleAssistant:
			wm := &provider.Message{Role: types.RoleAssistant}
			for _, part := range msg.Parts {
				switch p := part.(type) {
				case *types.TextPart:
					wm.Content += p.Text
				case *types.ToolCallPart:
					wm.ToolCalls = append(wm.ToolCalls, provider.ToolCall{
						ID:   p.CallID,
						Name: p.Tool,
						Args: p.Input,
					})
				case *types.CompletionPart:
					wm.Content += "\n[Task completed: " + p.Result + "]"
				}
			}
			if wm.Content != "" || len(wm.ToolCalls) > 0 {
				out = append(out, wm)
			}

		default:
			wm := &provider.Message{Role: msg.Role}
			for _, part := range msg.Parts {
				switch p := part.(type) {
				case *types.TextPart:
					wm.Content += p.Text
				case *types.SummaryPart:
					wm.Content += "[Earlier conversation, summarized]\n" + p.Text
				}
			}
			if wm.Content != "" {
				out = append(out, wm)
			}
		}
	}
	return out
}

func nowMilli() int64 { return time.Now().UnixMilli() }
