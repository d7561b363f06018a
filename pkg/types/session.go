// Package types defines the shared data model for the orchestration core.
package types

// SessionState is the lifecycle state of a session's conversation loop.
type SessionState string

const (
	StateIdle             SessionState = "idle"
	StateRequesting       SessionState = "requesting"
	StatePresenting       SessionState = "presenting"
	StateAwaitingResponse SessionState = "awaiting_response"
	StatePaused           SessionState = "paused"
	StateCompleted        SessionState = "completed"
	StateAborted          SessionState = "aborted"
	StateDisposed         SessionState = "disposed"
)

// Terminal reports whether no further transitions (other than disposal)
// can occur from this state.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateDisposed:
		return true
	}
	return false
}

// SessionTime contains session timestamps in Unix milliseconds.
type SessionTime struct {
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
	Disposed *int64 `json:"disposed,omitempty"`
}

// SessionInfo is the identity record of a session.
type SessionInfo struct {
	ID         string      `json:"id"`
	InstanceID string      `json:"instanceID"`
	ParentID   *string     `json:"parentID,omitempty"`
	RootID     string      `json:"rootID"`
	Sequence   int         `json:"sequence"` // creation order under RootID
	IsParallel bool        `json:"isParallel"`
	Time       SessionTime `json:"time"`
}

// ToolUsage counts tool execution outcomes for one tool name.
type ToolUsage struct {
	Success int `json:"success"`
	Error   int `json:"error"`
}

// SessionSummary is the read-only view of a session exposed upward.
type SessionSummary struct {
	SessionInfo
	State             SessionState         `json:"state"`
	ConsecutiveErrors int                  `json:"consecutiveErrors"`
	ToolUsage         map[string]ToolUsage `json:"toolUsage,omitempty"`
	PendingAsk        *AskRequest          `json:"pendingAsk,omitempty"`
}
