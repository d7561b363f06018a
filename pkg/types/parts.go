package types

import "encoding/json"

// Part represents a content block inside a message.
type Part interface {
	PartType() string
	PartID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents streamed text content.
type TextPart struct {
	ID   string   `json:"id"`
	Type string   `json:"type"` // always "text"
	Text string   `json:"text"`
	Time PartTime `json:"time,omitempty"`
}

func (p *TextPart) PartType() string { return "text" }
func (p *TextPart) PartID() string   { return p.ID }

// ReasoningPart represents extended thinking content.
type ReasoningPart struct {
	ID   string   `json:"id"`
	Type string   `json:"type"` // always "reasoning"
	Text string   `json:"text"`
	Time PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string { return "reasoning" }
func (p *ReasoningPart) PartID() string   { return p.ID }

// ToolCallPart is a model-emitted instruction to invoke an external tool.
// It is provisional while streaming and becomes actionable only once the
// stream confirms the block is complete.
type ToolCallPart struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"` // always "tool_call"
	CallID string          `json:"callID"`
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input"`
	Time   PartTime        `json:"time,omitempty"`
}

func (p *ToolCallPart) PartType() string { return "tool_call" }
func (p *ToolCallPart) PartID() string   { return p.ID }

// ToolResultPart carries the outcome of a tool execution back to the model.
// Exactly one of Output or Error is meaningful.
type ToolResultPart struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"` // always "tool_result"
	CallID     string   `json:"callID"`
	Tool       string   `json:"tool"`
	Output     string   `json:"output,omitempty"`
	Error      *string  `json:"error,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
	Time       PartTime `json:"time,omitempty"`
}

func (p *ToolResultPart) PartType() string { return "tool_result" }
func (p *ToolResultPart) PartID() string   { return p.ID }

// IsError reports whether the tool execution failed.
func (p *ToolResultPart) IsError() bool { return p.Error != nil }

// SummaryPart replaces a condensed prefix of conversation history.
// Replaced records how many messages the summary stands in for.
type SummaryPart struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // always "summary"
	Text     string `json:"text"`
	Replaced int    `json:"replaced"`
}

func (p *SummaryPart) PartType() string { return "summary" }
func (p *SummaryPart) PartID() string   { return p.ID }

// CompletionPart is the designated terminal content block: the model emits
// it to signal that the task is done.
type CompletionPart struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // always "completion"
	Result string `json:"result"`
}

func (p *CompletionPart) PartType() string { return "completion" }
func (p *CompletionPart) PartID() string   { return p.ID }

// UnmarshalPart unmarshals a JSON part into the appropriate concrete type.
func UnmarshalPart(data []byte) (Part, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool_call":
		var p ToolCallPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool_result":
		var p ToolResultPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "summary":
		var p SummaryPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "completion":
		var p CompletionPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		// Unknown part kinds degrade to text so history replay never fails.
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}
