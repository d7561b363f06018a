// Package history holds a session's ordered conversation log and its
// condensation machinery.
package history

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/strand-ai/strand/pkg/types"
)

// History is an append-only ordered message log. It is owned exclusively
// by one session and is only ever touched from that session's loop, so no
// locking is needed. The only structural mutation is condensation, which
// atomically replaces a contiguous prefix with a single summary message.
type History struct {
	sessionID string
	messages  []*types.Message
}

// New creates an empty history for a session.
func New(sessionID string) *History {
	return &History{sessionID: sessionID}
}

// Load creates a history seeded with persisted messages.
func Load(sessionID string, messages []*types.Message) *History {
	return &History{sessionID: sessionID, messages: messages}
}

// Append adds a message at the end of the log.
func (h *History) Append(msg *types.Message) {
	h.messages = append(h.messages, msg)
}

// AppendText appends a single-text-part message with the given role.
func (h *History) AppendText(role, text string) *types.Message {
	msg := &types.Message{
		ID:        ulid.Make().String(),
		SessionID: h.sessionID,
		Role:      role,
		Parts: []types.Part{
			&types.TextPart{ID: ulid.Make().String(), Type: "text", Text: text},
		},
		Time: types.MessageTime{Created: time.Now().UnixMilli()},
	}
	h.messages = append(h.messages, msg)
	return msg
}

// Messages returns the log in causal order. Callers must not mutate it.
func (h *History) Messages() []*types.Message { return h.messages }

// Len returns the number of messages.
func (h *History) Len() int { return len(h.messages) }

// Last returns the most recent message, or nil.
func (h *History) Last() *types.Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}

// EstimatedTokens estimates the serialized size of the log. Recorded usage
// is preferred; text falls back to a characters/4 heuristic.
func (h *History) EstimatedTokens() int {
	total := 0
	for _, msg := range h.messages {
		if msg.Tokens != nil {
			total += msg.Tokens.Output
			continue
		}
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case *types.TextPart:
				total += estimateTokens(p.Text)
			case *types.ReasoningPart:
				total += estimateTokens(p.Text)
			case *types.ToolCallPart:
				total += estimateTokens(string(p.Input))
			case *types.ToolResultPart:
				total += estimateTokens(p.Output)
			case *types.SummaryPart:
				total += estimateTokens(p.Text)
			}
		}
	}
	return total
}

// ReplacePrefix atomically substitutes the first `count` messages with a
// single summary message. Messages after the prefix are untouched.
func (h *History) ReplacePrefix(count int, summary string) *types.Message {
	if count <= 0 || count > len(h.messages) {
		return nil
	}

	msg := &types.Message{
		ID:        ulid.Make().String(),
		SessionID: h.sessionID,
		Role:      types.RoleUser,
		Parts: []types.Part{
			&types.SummaryPart{
				ID:       ulid.Make().String(),
				Type:     "summary",
				Text:     summary,
				Replaced: count,
			},
		},
		Time: types.MessageTime{Created: time.Now().UnixMilli()},
	}

	rest := h.messages[count:]
	replaced := make([]*types.Message, 0, len(rest)+1)
	replaced = append(replaced, msg)
	replaced = append(replaced, rest...)
	h.messages = replaced

	return msg
}

// estimateTokens approximates token count at ~4 characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}
