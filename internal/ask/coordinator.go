// Package ask serializes requests for human attention across concurrent
// sessions. Many sessions may wait at once; the shared interaction
// surface sees exactly one ask at a time, in enqueue order.
package ask

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/strand-ai/strand/internal/event"
	"github.com/strand-ai/strand/pkg/types"
)

// entry is one queued ask plus its delivery channel.
type entry struct {
	req      types.AskRequest
	respCh   chan types.AskResponse
	timedOut bool
}

// Coordinator owns the ask queue. Only the act of requesting and
// receiving human attention is serialized; sessions whose asks are not at
// the head keep waiting without blocking each other's progress.
type Coordinator struct {
	mu sync.Mutex

	order      []string          // sessionIDs in enqueue order
	queue      map[string]*entry // at most one entry per session
	presenting string            // sessionID currently presented, or ""

	timeout time.Duration
	clock   clock.Clock
	bus     *event.Bus
	log     zerolog.Logger

	metrics types.AskMetrics
}

// New creates a coordinator. A zero timeout disables timeout detection.
func New(timeout time.Duration, clk clock.Clock, bus *event.Bus, log zerolog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		queue:   make(map[string]*entry),
		timeout: timeout,
		clock:   clk,
		bus:     bus,
		log:     log,
	}
}

// Enqueue registers an ask for a session and returns the channel its
// resolution will be delivered on. Registration is idempotent: a session
// with an outstanding ask gets its existing channel back and the queue is
// not touched.
func (c *Coordinator) Enqueue(req types.AskRequest) <-chan types.AskResponse {
	c.mu.Lock()

	if existing, ok := c.queue[req.SessionID]; ok {
		c.mu.Unlock()
		return existing.respCh
	}

	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = c.clock.Now()
	}

	e := &entry{
		req:    req,
		respCh: make(chan types.AskResponse, 1),
	}
	c.queue[req.SessionID] = e
	c.order = append(c.order, req.SessionID)

	presentNext := c.presenting == ""
	c.mu.Unlock()

	c.log.Debug().Str("session", req.SessionID).Str("kind", string(req.Kind)).Msg("ask enqueued")
	if presentNext {
		c.presentHead()
	}
	return e.respCh
}

// Resolve delivers the human's response to the waiting session and
// removes the entry. Resolution is honored whenever it arrives, even
// after a timeout was detected.
func (c *Coordinator) Resolve(sessionID string, resp types.AskResponse) error {
	c.mu.Lock()
	e, ok := c.queue[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("no pending ask for session %s", sessionID)
	}

	waitMs := c.clock.Now().Sub(e.req.EnqueuedAt).Milliseconds()
	c.updateAskMetrics(waitMs, e.timedOut)
	c.remove(sessionID)
	c.mu.Unlock()

	e.respCh <- resp

	if c.bus != nil {
		c.bus.Publish(event.Event{
			Type: event.AskResolved,
			Data: event.AskResolvedData{SessionID: sessionID, Response: resp, WaitMs: waitMs},
		})
	}
	c.presentHead()
	return nil
}

// Cancel withdraws a session's ask without delivering a response. Used on
// abort and dispose; a no-op when nothing is pending.
func (c *Coordinator) Cancel(sessionID string) {
	c.mu.Lock()
	_, ok := c.queue[sessionID]
	if ok {
		c.remove(sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.log.Debug().Str("session", sessionID).Msg("ask cancelled")
	if c.bus != nil {
		c.bus.Publish(event.Event{
			Type: event.AskCancelled,
			Data: event.AskCancelledData{SessionID: sessionID},
		})
	}
	c.presentHead()
}

// remove drops an entry from queue and order; caller holds the lock.
func (c *Coordinator) remove(sessionID string) {
	delete(c.queue, sessionID)
	for i, id := range c.order {
		if id == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.presenting == sessionID {
		c.presenting = ""
	}
}

// presentHead presents the oldest queued ask if the surface is free.
func (c *Coordinator) presentHead() {
	c.mu.Lock()
	if c.presenting != "" || len(c.order) == 0 {
		c.mu.Unlock()
		return
	}
	head := c.queue[c.order[0]]
	c.presenting = head.req.SessionID
	req := head.req
	c.mu.Unlock()

	c.log.Info().Str("session", req.SessionID).Str("kind", string(req.Kind)).Msg("ask presented")
	if c.bus != nil {
		c.bus.Publish(event.Event{
			Type: event.AskPresented,
			Data: event.AskPresentedData{Ask: req},
		})
	}
}

// Pending returns the ask outstanding for a session, if any.
func (c *Coordinator) Pending(sessionID string) (types.AskRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.queue[sessionID]
	if !ok {
		return types.AskRequest{}, false
	}
	return e.req, true
}

// QueueStatus reports the queue size and the oldest wait.
func (c *Coordinator) QueueStatus() types.AskQueueStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := types.AskQueueStatus{Size: len(c.order)}
	if len(c.order) > 0 {
		oldest := c.queue[c.order[0]].req.EnqueuedAt
		status.OldestWaitMs = c.clock.Now().Sub(oldest).Milliseconds()
	}
	return status
}

// Metrics returns a snapshot of the process-wide ask metrics.
func (c *Coordinator) Metrics() types.AskMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// CheckTimeouts marks asks older than the configured timeout. Each ask is
// counted once; nothing is cancelled, since human response time is
// unbounded. Returns the sessionIDs of asks older than stuckThreshold for
// health reporting.
func (c *Coordinator) CheckTimeouts(stuckThreshold time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var stuck []string

	for _, id := range c.order {
		e := c.queue[id]
		age := now.Sub(e.req.EnqueuedAt)

		if c.timeout > 0 && !e.timedOut && age > c.timeout {
			e.timedOut = true
			c.metrics.TimeoutCount++
			c.log.Warn().Str("session", id).Dur("age", age).Msg("ask exceeded timeout, keeping")
		}
		if stuckThreshold > 0 && age > stuckThreshold {
			stuck = append(stuck, id)
		}
	}
	return stuck
}

// updateAskMetrics folds one resolved ask into the running statistics;
// caller holds the lock. The average is a true running mean. timedOut
// asks already incremented TimeoutCount when detected.
func (c *Coordinator) updateAskMetrics(waitMs int64, timedOut bool) {
	c.metrics.TotalAsks++
	c.metrics.AvgProcessingMs += (float64(waitMs) - c.metrics.AvgProcessingMs) / float64(c.metrics.TotalAsks)
	if waitMs > c.metrics.MaxProcessingMs {
		c.metrics.MaxProcessingMs = waitMs
	}
	if timedOut && c.timeout == 0 {
		// Timeout detection disabled; count it here instead.
		c.metrics.TimeoutCount++
	}
}
