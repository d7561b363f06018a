package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoTransport adapts an Eino chat model to the Transport interface. The
// embedding host constructs the concrete chat model (Anthropic, OpenAI,
// Bedrock, ...) and hands it in; the core never touches provider SDKs.
type EinoTransport struct {
	chatModel model.ToolCallingChatModel
}

// NewEinoTransport wraps an Eino tool-calling chat model.
func NewEinoTransport(chatModel model.ToolCallingChatModel) *EinoTransport {
	return &EinoTransport{chatModel: chatModel}
}

// OpenStream implements Transport.
func (t *EinoTransport) OpenStream(ctx context.Context, req *Request) (Stream, error) {
	chatModel := t.chatModel
	if len(req.Tools) > 0 {
		infos := make([]*schema.ToolInfo, 0, len(req.Tools))
		for _, ti := range req.Tools {
			infos = append(infos, &schema.ToolInfo{
				Name:        ti.Name,
				Desc:        ti.Description,
				ParamsOneOf: schema.NewParamsOneOfByParams(parseJSONSchemaToParams(ti.Parameters)),
			})
		}
		bound, err := chatModel.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
		chatModel = bound
	}

	msgs := toSchemaMessages(req)

	reader, err := chatModel.Stream(ctx, msgs,
		model.WithMaxTokens(req.MaxTokens),
		model.WithTemperature(float32(req.Temperature)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	return &einoStream{reader: reader}, nil
}

// toSchemaMessages converts a request snapshot to Eino wire messages.
func toSchemaMessages(req *Request) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(req.Messages)+1)

	if req.System != "" {
		msgs = append(msgs, &schema.Message{Role: schema.System, Content: req.System})
	}

	for _, m := range req.Messages {
		role := schema.Assistant
		switch m.Role {
		case "user":
			role = schema.User
		case "system":
			role = schema.System
		case "tool":
			role = schema.Tool
		}

		sm := &schema.Message{
			Role:       role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			sm.ToolCalls = append(sm.ToolCalls, schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		msgs = append(msgs, sm)
	}

	return msgs
}

// einoStream converts cumulative Eino chunks into typed delta events.
type einoStream struct {
	reader *schema.StreamReader[*schema.Message]

	// accumulated state across chunks
	content    string
	reasoning  string
	toolOrder  []string
	toolNames  map[string]string
	toolArgs   map[string]string
	usage      *UsageUpdate
	finish     string
	pending    []StreamEvent
	terminated bool
}

// Recv implements Stream. It returns io.EOF after the terminating
// StreamEnd or StreamError has been delivered.
func (s *einoStream) Recv() (StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.terminated {
			return nil, io.EOF
		}

		msg, err := s.reader.Recv()
		if err == io.EOF {
			s.finalize()
			continue
		}
		if err != nil {
			s.terminated = true
			return StreamError{Err: err, Retryable: true}, nil
		}

		s.ingest(msg)
	}
}

// ingest translates one chunk into zero or more pending events.
func (s *einoStream) ingest(msg *schema.Message) {
	if msg.Content != "" && len(msg.Content) > len(s.content) {
		delta := msg.Content[len(s.content):]
		s.content = msg.Content
		s.pending = append(s.pending, TextDelta{Text: delta})
	}

	if msg.ReasoningContent != "" && len(msg.ReasoningContent) > len(s.reasoning) {
		delta := msg.ReasoningContent[len(s.reasoning):]
		s.reasoning = msg.ReasoningContent
		s.pending = append(s.pending, ReasoningDelta{Text: delta})
	}

	for _, tc := range msg.ToolCalls {
		if s.toolNames == nil {
			s.toolNames = make(map[string]string)
			s.toolArgs = make(map[string]string)
		}
		if _, seen := s.toolNames[tc.ID]; !seen {
			s.toolOrder = append(s.toolOrder, tc.ID)
			s.toolNames[tc.ID] = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			prev := s.toolArgs[tc.ID]
			args := tc.Function.Arguments
			delta := args
			if len(args) > len(prev) && args[:len(prev)] == prev {
				delta = args[len(prev):]
			}
			s.toolArgs[tc.ID] = args
			s.pending = append(s.pending, ToolCallDelta{
				CallID:    tc.ID,
				Name:      s.toolNames[tc.ID],
				ArgsDelta: delta,
			})
		} else {
			s.pending = append(s.pending, ToolCallDelta{CallID: tc.ID, Name: s.toolNames[tc.ID]})
		}
	}

	if meta := msg.ResponseMeta; meta != nil {
		if meta.Usage != nil {
			s.usage = &UsageUpdate{
				InputTokens:  meta.Usage.PromptTokens,
				OutputTokens: meta.Usage.CompletionTokens,
			}
		}
		if meta.FinishReason != "" {
			s.finish = meta.FinishReason
		}
	}
}

// finalize emits completed tool calls, usage, and the terminating event.
func (s *einoStream) finalize() {
	for _, id := range s.toolOrder {
		args := s.toolArgs[id]
		if args == "" {
			args = "{}"
		}
		s.pending = append(s.pending, ToolCallEnd{
			CallID: id,
			Name:   s.toolNames[id],
			Args:   json.RawMessage(args),
		})
	}

	if s.usage != nil {
		s.pending = append(s.pending, *s.usage)
	}

	reason := s.finish
	switch reason {
	case "tool_use", "tool_calls":
		reason = FinishToolUse
	case "max_tokens", "length":
		reason = FinishMaxTokens
	case "", "stop", "end_turn":
		reason = FinishStop
		if len(s.toolOrder) > 0 {
			reason = FinishToolUse
		}
	}

	s.pending = append(s.pending, StreamEnd{Reason: reason})
	s.terminated = true
}

// Close implements Stream.
func (s *einoStream) Close() error {
	s.reader.Close()
	s.terminated = true
	return nil
}

// parseJSONSchemaToParams converts a JSON Schema document to Eino
// parameter descriptors.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}
