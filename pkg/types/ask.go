package types

import "time"

// AskKind classifies why a session is requesting human attention.
type AskKind string

const (
	// AskApproval asks the human to approve a pending tool execution.
	AskApproval AskKind = "approval"
	// AskIntervention asks the human to step in after the session hit its
	// consecutive-mistake ceiling.
	AskIntervention AskKind = "intervention"
	// AskFailure surfaces an unrecoverable transport failure after retry
	// exhaustion and asks whether to retry or stop.
	AskFailure AskKind = "failure"
)

// AskRequest is a request from a session for a human decision. At most one
// ask is outstanding per session; it is immutable after creation apart from
// the bookkeeping timestamps used by health checks.
type AskRequest struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	Kind       AskKind        `json:"kind"`
	Title      string         `json:"title"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

// AskResponse is the human's answer to an ask.
type AskResponse struct {
	// Approved applies to approval asks.
	Approved bool `json:"approved"`
	// Text carries free-form guidance the session feeds back to the model.
	Text string `json:"text,omitempty"`
	// Stop requests that the session abort instead of continuing.
	Stop bool `json:"stop,omitempty"`
}

// AskMetrics are process-wide ask statistics, reset only on coordinator
// restart.
type AskMetrics struct {
	TotalAsks       int64   `json:"totalAsks"`
	AvgProcessingMs float64 `json:"avgProcessingTimeMs"`
	MaxProcessingMs int64   `json:"maxProcessingTimeMs"`
	TimeoutCount    int64   `json:"timeoutCount"`
}

// AskQueueStatus is a point-in-time view of the ask queue.
type AskQueueStatus struct {
	Size         int   `json:"size"`
	OldestWaitMs int64 `json:"oldestWaitMs"`
}
