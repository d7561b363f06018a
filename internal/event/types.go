package event

import "github.com/strand-ai/strand/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info types.SessionInfo `json:"info"`
}

// SessionStateChangedData is the data for session.state-changed events.
type SessionStateChangedData struct {
	SessionID string             `json:"sessionID"`
	From      types.SessionState `json:"from"`
	To        types.SessionState `json:"to"`
}

// SessionDisposedData is the data for session.disposed events.
type SessionDisposedData struct {
	SessionID string `json:"sessionID"`
}

// MessageAppendedData is the data for message.appended events.
type MessageAppendedData struct {
	Message *types.Message `json:"message"`
}

// PartUpdatedData is the data for part.updated events.
type PartUpdatedData struct {
	SessionID string     `json:"sessionID"`
	MessageID string     `json:"messageID"`
	Part      types.Part `json:"part"`
	Delta     string     `json:"delta,omitempty"`
}

// HistoryCondensedData is the data for history.condensed events.
type HistoryCondensedData struct {
	SessionID    string `json:"sessionID"`
	Replaced     int    `json:"replaced"`
	TokensBefore int    `json:"tokensBefore"`
	TokensAfter  int    `json:"tokensAfter"`
}

// AskPresentedData is the data for ask.presented events.
type AskPresentedData struct {
	Ask types.AskRequest `json:"ask"`
}

// AskResolvedData is the data for ask.resolved events.
type AskResolvedData struct {
	SessionID string            `json:"sessionID"`
	Response  types.AskResponse `json:"response"`
	WaitMs    int64             `json:"waitMs"`
}

// AskCancelledData is the data for ask.cancelled events.
type AskCancelledData struct {
	SessionID string `json:"sessionID"`
}

// HealthReportData is the data for health.report events.
type HealthReportData struct {
	ActiveSessions int              `json:"activeSessions"`
	Orphaned       []string         `json:"orphaned,omitempty"`
	StuckAsks      []string         `json:"stuckAsks,omitempty"`
	Metrics        types.AskMetrics `json:"metrics"`
}
