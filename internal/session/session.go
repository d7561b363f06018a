// Package session implements the per-session conversation state machine:
// the agentic loop that alternates model requests, tool executions, and
// human decisions until the task completes or is aborted.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/strand-ai/strand/internal/ask"
	"github.com/strand-ai/strand/internal/dispatch"
	"github.com/strand-ai/strand/internal/event"
	"github.com/strand-ai/strand/internal/executor"
	"github.com/strand-ai/strand/internal/history"
	"github.com/strand-ai/strand/internal/logging"
	"github.com/strand-ai/strand/internal/permission"
	"github.com/strand-ai/strand/pkg/types"
)

// Persistence stores conversation history between checkpoints. A nil
// Persistence keeps everything in memory.
type Persistence interface {
	SaveMessages(sessionID string, messages []*types.Message) error
	LoadMessages(sessionID string) ([]*types.Message, error)
}

// Deps are the collaborators a session needs. All are shared across
// sessions except the dispatcher stats, which each session owns.
type Deps struct {
	Bus        *event.Bus
	Executor   *executor.Executor
	Condenser  *history.Condenser
	Asks       *ask.Coordinator
	Policy     permission.ApprovalPolicy
	Repetition permission.RepetitionDetector
	Dispatcher *dispatch.Dispatcher
	Persist    Persistence

	Config       types.SessionConfig
	SystemPrompt string
	WorkDir      string
}

// Session is one conversation loop instance. Its history is touched only
// from the loop goroutine; state and flags are guarded by mu for
// concurrent readers.
type Session struct {
	info types.SessionInfo
	deps Deps

	mu       sync.Mutex
	state    types.SessionState
	mistakes int
	aborted  bool
	abortCh  chan struct{}

	paused   bool
	resumeCh chan struct{}

	streamCancel context.CancelFunc

	hist  *history.History
	stats *dispatch.Stats

	disposeOnce sync.Once
	disposedCh  chan struct{}

	log zerolog.Logger
}

// New creates a session in the Idle state. Persisted history, if any, is
// loaded so a session can resume a prior conversation.
func New(info types.SessionInfo, deps Deps) *Session {
	s := &Session{
		info:       info,
		deps:       deps,
		state:      types.StateIdle,
		stats:      dispatch.NewStats(),
		abortCh:    make(chan struct{}),
		disposedCh: make(chan struct{}),
		log:        logging.ForSession("session", info.ID),
	}

	var msgs []*types.Message
	if deps.Persist != nil {
		if loaded, err := deps.Persist.LoadMessages(info.ID); err == nil {
			msgs = loaded
		} else {
			s.log.Warn().Err(err).Msg("could not load persisted history")
		}
	}
	if msgs != nil {
		s.hist = history.Load(info.ID, msgs)
	} else {
		s.hist = history.New(info.ID)
	}

	if deps.Bus != nil {
		deps.Bus.Publish(event.Event{
			Type: event.SessionCreated,
			Data: event.SessionCreatedData{Info: info},
		})
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.info.ID }

// Info returns the session's identity record.
func (s *Session) Info() types.SessionInfo { return s.info }

// State returns the current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mistakes returns the consecutive-mistake count.
func (s *Session) Mistakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mistakes
}

// Disposed returns a channel closed exactly once when the session is
// disposed.
func (s *Session) Disposed() <-chan struct{} { return s.disposedCh }

// Summary returns the read-only view exposed upward.
func (s *Session) Summary() types.SessionSummary {
	s.mu.Lock()
	state := s.state
	mistakes := s.mistakes
	s.mu.Unlock()

	summary := types.SessionSummary{
		SessionInfo:       s.info,
		State:             state,
		ConsecutiveErrors: mistakes,
		ToolUsage:         s.stats.Snapshot(),
	}
	if s.deps.Asks != nil {
		if pending, ok := s.deps.Asks.Pending(s.info.ID); ok {
			summary.PendingAsk = &pending
		}
	}
	return summary
}

// Messages returns the conversation history snapshot. Safe to call only
// when the loop is not running or from the loop itself; host channels go
// through persisted checkpoints instead.
func (s *Session) Messages() []*types.Message { return s.hist.Messages() }

// setState transitions the lifecycle state and publishes the change.
// Transitions out of terminal states are ignored, except into Disposed.
func (s *Session) setState(to types.SessionState) {
	s.mu.Lock()
	from := s.state
	if from == to || (from.Terminal() && to != types.StateDisposed) {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.info.Time.Updated = time.Now().UnixMilli()
	s.mu.Unlock()

	s.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state changed")
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(event.Event{
			Type: event.SessionStateChanged,
			Data: event.SessionStateChangedData{SessionID: s.info.ID, From: from, To: to},
		})
	}
}

// Pause suspends the loop at its next suspension point. Pausing a
// terminal session is a no-op.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.state.Terminal() {
		return
	}
	s.paused = true
	s.resumeCh = make(chan struct{})
}

// Resume releases a paused loop.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resumeCh)
	s.resumeCh = nil
}

// Abort requests cooperative termination: the in-flight stream is
// cancelled, any pending ask is withdrawn, and the loop finishes with the
// partial content it has. Safe to call from any goroutine, repeatedly.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.aborted || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	close(s.abortCh)
	cancel := s.streamCancel
	resumeCh := s.resumeCh
	if s.paused {
		s.paused = false
		s.resumeCh = nil
	}
	s.mu.Unlock()

	s.log.Info().Msg("abort requested")
	if cancel != nil {
		cancel()
	}
	if resumeCh != nil {
		close(resumeCh)
	}
	if s.deps.Asks != nil {
		s.deps.Asks.Cancel(s.info.ID)
	}
}

// isAborted reports whether an abort has been requested.
func (s *Session) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// waitIfPaused blocks while the session is paused. Returns false if the
// wait ended because of an abort or context cancellation.
func (s *Session) waitIfPaused(ctx context.Context) bool {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return !s.aborted
	}
	ch := s.resumeCh
	prior := s.state
	s.mu.Unlock()

	s.setState(types.StatePaused)
	select {
	case <-ch:
	case <-ctx.Done():
		return false
	}
	if s.isAborted() {
		return false
	}
	s.setState(prior)
	return true
}

// Dispose finalizes the session: terminal state, final persistence
// checkpoint, disposal notification. Idempotent.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.setState(types.StateDisposed)

		s.mu.Lock()
		now := time.Now().UnixMilli()
		s.info.Time.Disposed = &now
		s.mu.Unlock()

		s.checkpoint()
		if s.deps.Asks != nil {
			s.deps.Asks.Cancel(s.info.ID)
		}
		if s.deps.Repetition != nil {
			s.deps.Repetition.Clear(s.info.ID)
		}

		close(s.disposedCh)
		s.log.Info().Msg("session disposed")
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(event.Event{
				Type: event.SessionDisposed,
				Data: event.SessionDisposedData{SessionID: s.info.ID},
			})
		}
	})
}

// checkpoint persists the conversation history.
func (s *Session) checkpoint() {
	if s.deps.Persist == nil {
		return
	}
	if err := s.deps.Persist.SaveMessages(s.info.ID, s.hist.Messages()); err != nil {
		s.log.Error().Err(err).Msg("history checkpoint failed")
	}
}

// appendMessage appends to history, publishes, and checkpoints.
func (s *Session) appendMessage(msg *types.Message) {
	s.hist.Append(msg)
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(event.Event{
			Type: event.MessageAppended,
			Data: event.MessageAppendedData{Message: msg},
		})
	}
	s.checkpoint()
}

// appendText appends a single-text-part message and checkpoints.
func (s *Session) appendText(role, text string) {
	msg := s.hist.AppendText(role, text)
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(event.Event{
			Type: event.MessageAppended,
			Data: event.MessageAppendedData{Message: msg},
		})
	}
	s.checkpoint()
}

// newToolResult builds a failed tool-result part without dispatching.
func newToolResult(call *types.ToolCallPart, errText string) *types.ToolResultPart {
	return &types.ToolResultPart{
		ID:     ulid.Make().String(),
		Type:   "tool_result",
		CallID: call.CallID,
		Tool:   call.Tool,
		Error:  &errText,
	}
}
