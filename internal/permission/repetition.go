package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DefaultRepetitionThreshold is how many identical consecutive calls are
// tolerated before the detector denies.
const DefaultRepetitionThreshold = 3

// historyWindow bounds per-session call history.
const historyWindow = 10

// Verdict is the repetition detector's decision for one tool call.
type Verdict struct {
	Allow bool
	// Count is the number of identical consecutive calls observed,
	// including this one.
	Count int
}

// RepetitionDetector inspects recent tool invocations per session and
// denies a call when the same tool has been invoked with identical input
// too many times in a row. This is the guard against runaway loops.
type RepetitionDetector interface {
	Check(sessionID, tool string, input json.RawMessage) Verdict
	Clear(sessionID string)
}

// HashDetector implements RepetitionDetector by hashing tool name plus
// input and comparing against the session's recent call window.
type HashDetector struct {
	mu        sync.Mutex
	threshold int
	history   map[string][]string // sessionID -> recent call hashes
}

// NewHashDetector creates a detector with the given threshold; zero uses
// the default.
func NewHashDetector(threshold int) *HashDetector {
	if threshold <= 0 {
		threshold = DefaultRepetitionThreshold
	}
	return &HashDetector{
		threshold: threshold,
		history:   make(map[string][]string),
	}
}

// Check implements RepetitionDetector.
func (d *HashDetector) Check(sessionID, tool string, input json.RawMessage) Verdict {
	hash := hashCall(tool, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	recent := d.history[sessionID]

	// Count the run of identical calls at the tail of the window.
	run := 1
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i] != hash {
			break
		}
		run++
	}

	recent = append(recent, hash)
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	d.history[sessionID] = recent

	return Verdict{Allow: run < d.threshold, Count: run}
}

// Clear drops a session's history.
func (d *HashDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionID)
}

func hashCall(tool string, input json.RawMessage) string {
	payload, _ := json.Marshal(map[string]any{
		"tool":  tool,
		"input": input,
	})
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:])
}
