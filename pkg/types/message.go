package types

import "encoding/json"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// MessageTime contains message timestamps in Unix milliseconds.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// TokenUsage tracks token consumption for a message.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total returns combined input and output tokens.
func (t TokenUsage) Total() int { return t.Input + t.Output }

// Message is one entry in a conversation history. Parts preserve the causal
// order of the dialogue and are never mutated after append, except when
// condensation replaces a prefix of the history with a summary message.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"`
	Parts     []Part      `json:"parts"`
	Time      MessageTime `json:"time"`
	Tokens    *TokenUsage `json:"tokens,omitempty"`

	// Truncated marks an assistant message whose stream was cut off by an
	// abort; the partial content is kept rather than discarded.
	Truncated bool `json:"truncated,omitempty"`
}

// UnmarshalJSON decodes Parts into their concrete types.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Parts []json.RawMessage `json:"parts"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, raw := range aux.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(*TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolCalls returns the message's tool-call parts.
func (m *Message) ToolCalls() []*ToolCallPart {
	var calls []*ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(*ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Completion returns the terminal completion part, if present.
func (m *Message) Completion() *CompletionPart {
	for _, p := range m.Parts {
		if cp, ok := p.(*CompletionPart); ok {
			return cp
		}
	}
	return nil
}
