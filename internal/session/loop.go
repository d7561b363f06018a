package session

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/strand-ai/strand/internal/event"
	"github.com/strand-ai/strand/internal/permission"
	"github.com/strand-ai/strand/pkg/types"
)

// noProgressGuidance is fed back when a turn produced neither a tool call
// nor a completion. The model gets one corrective nudge per occurrence;
// repeated occurrences count toward the mistake ceiling.
const noProgressGuidance = "Your last response contained no tool call and no task completion. " +
	"Either invoke a tool to make progress, or call complete_task with a summary of the result."

// Run drives the conversation loop to a terminal state. It appends the
// prompt as the opening user message, then alternates model requests,
// tool executions, and human decisions until the model completes the
// task, the human stops it, or an abort arrives. The session is disposed
// before Run returns.
func (s *Session) Run(ctx context.Context, prompt string) error {
	defer s.Dispose()

	if prompt != "" {
		s.appendText(types.RoleUser, prompt)
	}

	for step := 0; ; step++ {
		if !s.waitIfPaused(ctx) || s.isAborted() || ctx.Err() != nil {
			s.setState(types.StateAborted)
			return nil
		}

		if s.mistakesAtCeiling() {
			if stop := s.interventionAsk(ctx, "Agent is stuck and needs guidance"); stop {
				s.setState(types.StateAborted)
				return nil
			}
			continue
		}

		if step >= s.deps.Config.MaxSteps {
			if stop := s.interventionAsk(ctx, "Agent reached its step limit"); stop {
				s.setState(types.StateAborted)
				return nil
			}
			step = 0
			continue
		}

		s.maybeCondense(ctx)

		s.setState(types.StateRequesting)
		msg, failure := s.requestTurn(ctx)
		if msg != nil {
			s.appendMessage(msg)
		}

		if failure != nil {
			if s.isAborted() || ctx.Err() != nil {
				s.setState(types.StateAborted)
				return nil
			}
			if stop := s.failureAsk(ctx, failure); stop {
				s.setState(types.StateAborted)
				return nil
			}
			continue
		}

		if msg.Completion() != nil {
			s.setState(types.StateCompleted)
			s.log.Info().Msg("task completed")
			return nil
		}

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			s.recordMistake()
			s.appendText(types.RoleUser, noProgressGuidance)
			continue
		}

		for _, call := range calls {
			if s.isAborted() {
				s.setState(types.StateAborted)
				return nil
			}
			if stop := s.handleToolCall(ctx, msg.ID, call); stop {
				s.setState(types.StateAborted)
				return nil
			}
		}
	}
}

// mistakesAtCeiling reports whether consecutive mistakes reached the
// configured ceiling.
func (s *Session) mistakesAtCeiling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deps.Config.MistakeCeiling > 0 && s.mistakes >= s.deps.Config.MistakeCeiling
}

func (s *Session) recordMistake() {
	s.mu.Lock()
	s.mistakes++
	n := s.mistakes
	s.mu.Unlock()
	s.log.Debug().Int("consecutive", n).Msg("mistake recorded")
}

func (s *Session) resetMistakes() {
	s.mu.Lock()
	s.mistakes = 0
	s.mu.Unlock()
}

// maybeCondense shrinks the history when it exceeds the token budget.
// Condensation failures are logged, not fatal: the next request simply
// carries the longer history.
func (s *Session) maybeCondense(ctx context.Context) {
	budget := s.deps.Config.TokenBudget
	if s.deps.Condenser == nil || budget <= 0 {
		return
	}
	before := s.hist.EstimatedTokens()
	if before <= budget {
		return
	}

	replaced, err := s.deps.Condenser.Condense(ctx, s.hist)
	if err != nil {
		s.log.Warn().Err(err).Msg("condensation failed, continuing with full history")
		return
	}
	if replaced == 0 {
		return
	}

	after := s.hist.EstimatedTokens()
	s.checkpoint()
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(event.Event{
			Type: event.HistoryCondensed,
			Data: event.HistoryCondensedData{
				SessionID:    s.info.ID,
				Replaced:     replaced,
				TokensBefore: before,
				TokensAfter:  after,
			},
		})
	}
}

// handleToolCall runs one completed tool-call block through the guard
// chain: repetition detector, approval policy, then the dispatcher. Every
// outcome lands in history as a tool-result message. Returns true when
// the human asked to stop.
func (s *Session) handleToolCall(ctx context.Context, messageID string, call *types.ToolCallPart) bool {
	verdict := s.checkRepetition(call)
	if !verdict.Allow {
		s.recordMistake()
		s.appendToolResult(newToolResult(call, fmt.Sprintf(
			"Call rejected: %s was invoked %d times in a row with identical input. Try a different approach.",
			call.Tool, verdict.Count)))
		return false
	}

	switch s.policyAction(call) {
	case permission.ActionDeny:
		s.appendToolResult(newToolResult(call, fmt.Sprintf("Permission denied: %s is not allowed by policy.", call.Tool)))
		return false

	case permission.ActionAsk:
		resp, ok := s.awaitAsk(ctx, types.AskRequest{
			SessionID: s.info.ID,
			Kind:      types.AskApproval,
			Title:     fmt.Sprintf("Approve %s?", call.Tool),
			Payload: map[string]any{
				"tool":   call.Tool,
				"callID": call.CallID,
				"input":  string(call.Input),
			},
		})
		if !ok {
			return false // aborted; outer loop notices
		}
		if resp.Stop {
			return true
		}
		if !resp.Approved {
			reason := "Permission denied by the user."
			if resp.Text != "" {
				reason = "Permission denied by the user: " + resp.Text
			}
			s.appendToolResult(newToolResult(call, reason))
			return false
		}
	}

	result := s.deps.Dispatcher.Dispatch(ctx, call, s.toolContext(messageID, call), s.stats)
	if !result.IsError() {
		s.resetMistakes()
	}
	s.appendToolResult(result)
	return false
}

func (s *Session) checkRepetition(call *types.ToolCallPart) permission.Verdict {
	if s.deps.Repetition == nil {
		return permission.Verdict{Allow: true, Count: 1}
	}
	return s.deps.Repetition.Check(s.info.ID, call.Tool, call.Input)
}

func (s *Session) policyAction(call *types.ToolCallPart) permission.Action {
	if s.deps.Policy == nil {
		return permission.ActionAllow
	}
	return s.deps.Policy.Action(call.Tool, call.Input)
}

// appendToolResult wraps a result part in a tool-role message.
func (s *Session) appendToolResult(result *types.ToolResultPart) {
	msg := &types.Message{
		ID:        ulid.Make().String(),
		SessionID: s.info.ID,
		Role:      types.RoleTool,
		Parts:     []types.Part{result},
		Time:      types.MessageTime{Created: nowMilli()},
	}
	s.appendMessage(msg)
}

// awaitAsk enqueues an ask and blocks until the human answers or the
// session is aborted. The second return is false on abort.
func (s *Session) awaitAsk(ctx context.Context, req types.AskRequest) (types.AskResponse, bool) {
	ch := s.deps.Asks.Enqueue(req)
	s.setState(types.StateAwaitingResponse)

	select {
	case resp := <-ch:
		return resp, true
	case <-s.abortCh:
		return types.AskResponse{}, false
	case <-ctx.Done():
		s.deps.Asks.Cancel(s.info.ID)
		return types.AskResponse{}, false
	}
}

// interventionAsk forces a human decision after repeated mistakes or a
// step-limit breach. Guidance text is fed back as a user message and the
// mistake counter resets. Returns true when the human asked to stop.
func (s *Session) interventionAsk(ctx context.Context, title string) bool {
	s.log.Warn().Int("mistakes", s.Mistakes()).Msg("forcing human intervention")
	resp, ok := s.awaitAsk(ctx, types.AskRequest{
		SessionID: s.info.ID,
		Kind:      types.AskIntervention,
		Title:     title,
		Payload:   map[string]any{"consecutiveMistakes": s.Mistakes()},
	})
	if !ok || resp.Stop {
		return true
	}
	if resp.Text != "" {
		s.appendText(types.RoleUser, resp.Text)
	}
	s.resetMistakes()
	return false
}

// failureAsk surfaces a transport failure that survived retries and asks
// whether to try again or stop. Returns true when the human asked to
// stop.
func (s *Session) failureAsk(ctx context.Context, failure error) bool {
	resp, ok := s.awaitAsk(ctx, types.AskRequest{
		SessionID: s.info.ID,
		Kind:      types.AskFailure,
		Title:     "Model request failed",
		Payload:   map[string]any{"error": failure.Error()},
	})
	if !ok || resp.Stop {
		return true
	}
	if resp.Text != "" {
		s.appendText(types.RoleUser, resp.Text)
	}
	return false
}
