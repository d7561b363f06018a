package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/strand-ai/strand/internal/executor"
	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/pkg/types"
)

// condenseSystemPrompt constrains the summarization turn. It offers no
// tools, so the request cannot recurse into another agentic loop.
const condenseSystemPrompt = `You are a conversation summarizer. Produce a concise summary of the conversation that preserves the context needed to continue the work.

Cover:
1. The user's overall goal and stated constraints
2. What has been accomplished so far, in order
3. Files and artifacts created, modified, or inspected
4. Key decisions and their rationale
5. What remains to be done

Be concise but complete enough that work can continue seamlessly.`

// Condenser shrinks a history that exceeds its token budget by replacing
// an old prefix with a model-generated summary.
type Condenser struct {
	exec *executor.Executor
	cfg  types.CondenseConfig
	log  zerolog.Logger
}

// NewCondenser creates a condenser issuing summarization requests through
// the given executor.
func NewCondenser(exec *executor.Executor, cfg types.CondenseConfig, log zerolog.Logger) *Condenser {
	return &Condenser{exec: exec, cfg: cfg, log: log}
}

// Condense replaces the condensable prefix of h with a summary message.
// The most recent MinMessagesToKeep messages are never condensed. Returns
// the number of messages replaced; zero means the history was too short.
func (c *Condenser) Condense(ctx context.Context, h *History) (int, error) {
	keep := c.cfg.MinMessagesToKeep
	if h.Len() <= keep {
		return 0, nil
	}

	count := h.Len() - keep
	before := h.EstimatedTokens()
	prompt := buildSummaryPrompt(h.Messages()[:count])

	req := &provider.Request{
		System: condenseSystemPrompt,
		Messages: []*provider.Message{
			{Role: types.RoleUser, Content: prompt},
		},
		MaxTokens: c.cfg.SummaryMaxTokens,
	}

	var summary strings.Builder
	stream := c.exec.Execute(ctx, req)
	for ev := range stream.Events() {
		switch ev := ev.(type) {
		case provider.TextDelta:
			summary.WriteString(ev.Text)
		case provider.StreamError:
			return 0, fmt.Errorf("condensation request failed: %w", ev.Err)
		}
	}

	if summary.Len() == 0 {
		return 0, fmt.Errorf("condensation produced empty summary")
	}

	// The replacement must strictly shrink the estimate; a summary longer
	// than the prefix it stands in for would ratchet the history upward on
	// every budget check. Roll back and fail instead.
	orig := h.messages
	h.ReplacePrefix(count, summary.String())
	after := h.EstimatedTokens()
	if after >= before {
		h.messages = orig
		return 0, fmt.Errorf("condensation would not shrink history: %d -> %d estimated tokens", before, after)
	}

	c.log.Info().Int("replaced", count).Int("tokensBefore", before).Int("tokensAfter", after).Msg("history condensed")
	return count, nil
}

// buildSummaryPrompt renders the condensable prefix as plain text.
func buildSummaryPrompt(messages []*types.Message) string {
	var prompt strings.Builder

	prompt.WriteString("Summarize the following conversation:\n\n---\n\n")

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleUser:
			prompt.WriteString("USER:\n")
		case types.RoleAssistant:
			prompt.WriteString("ASSISTANT:\n")
		default:
			prompt.WriteString(strings.ToUpper(msg.Role) + ":\n")
		}

		for _, part := range msg.Parts {
			switch p := part.(type) {
			case *types.TextPart:
				prompt.WriteString(p.Text)
				prompt.WriteString("\n")
			case *types.SummaryPart:
				prompt.WriteString("[Earlier conversation, summarized]\n")
				prompt.WriteString(p.Text)
				prompt.WriteString("\n")
			case *types.ToolCallPart:
				fmt.Fprintf(&prompt, "[Tool call: %s %s]\n", p.Tool, truncate(string(p.Input), 200))
			case *types.ToolResultPart:
				out := p.Output
				if p.Error != nil {
					out = "Error: " + *p.Error
				}
				fmt.Fprintf(&prompt, "[Tool result: %s]\n%s\n", p.Tool, truncate(out, 500))
			case *types.CompletionPart:
				fmt.Fprintf(&prompt, "[Task completed: %s]\n", p.Result)
			}
		}

		prompt.WriteString("\n")
	}

	return prompt.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
