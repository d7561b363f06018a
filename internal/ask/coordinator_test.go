package ask

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-ai/strand/pkg/types"
)

func newTestCoordinator(timeout time.Duration) (*Coordinator, *clock.Mock) {
	mock := clock.NewMock()
	return New(timeout, mock, nil, zerolog.Nop()), mock
}

func TestEnqueueIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(0)

	ch1 := c.Enqueue(types.AskRequest{SessionID: "s1", Kind: types.AskApproval})
	ch2 := c.Enqueue(types.AskRequest{SessionID: "s1", Kind: types.AskApproval})

	assert.Equal(t, ch1, ch2)
	assert.Equal(t, 1, c.QueueStatus().Size)
}

func TestResolveDeliversResponse(t *testing.T) {
	c, _ := newTestCoordinator(0)

	ch := c.Enqueue(types.AskRequest{SessionID: "s1", Kind: types.AskApproval})
	require.NoError(t, c.Resolve("s1", types.AskResponse{Approved: true, Text: "go ahead"}))

	resp := <-ch
	assert.True(t, resp.Approved)
	assert.Equal(t, "go ahead", resp.Text)
	assert.Equal(t, 0, c.QueueStatus().Size)
}

func TestResolveUnknownSessionFails(t *testing.T) {
	c, _ := newTestCoordinator(0)
	assert.Error(t, c.Resolve("nope", types.AskResponse{}))
}

func TestQueuePreservesEnqueueOrder(t *testing.T) {
	c, _ := newTestCoordinator(0)

	c.Enqueue(types.AskRequest{SessionID: "a", Kind: types.AskApproval})
	c.Enqueue(types.AskRequest{SessionID: "b", Kind: types.AskApproval})
	c.Enqueue(types.AskRequest{SessionID: "c", Kind: types.AskApproval})

	assert.Equal(t, []string{"a", "b", "c"}, c.order)

	// Resolving the head moves presentation to the next in order.
	require.NoError(t, c.Resolve("a", types.AskResponse{Approved: true}))
	assert.Equal(t, []string{"b", "c"}, c.order)

	c.mu.Lock()
	presenting := c.presenting
	c.mu.Unlock()
	assert.Equal(t, "b", presenting)
}

func TestCancelRemovesWithoutResponse(t *testing.T) {
	c, _ := newTestCoordinator(0)

	ch := c.Enqueue(types.AskRequest{SessionID: "s1", Kind: types.AskApproval})
	c.Cancel("s1")

	assert.Equal(t, 0, c.QueueStatus().Size)
	select {
	case <-ch:
		t.Fatal("cancelled ask must not deliver a response")
	default:
	}

	// Cancelling again is a no-op.
	c.Cancel("s1")
	assert.Zero(t, c.Metrics().TotalAsks)
}

func TestMetricsRunningMeanAndMax(t *testing.T) {
	c, mock := newTestCoordinator(0)

	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		id := "s" + wait.String()
		c.Enqueue(types.AskRequest{SessionID: id, Kind: types.AskApproval})
		mock.Add(wait)
		require.NoError(t, c.Resolve(id, types.AskResponse{Approved: true}))
	}

	m := c.Metrics()
	assert.Equal(t, int64(3), m.TotalAsks)
	assert.InDelta(t, 2000, m.AvgProcessingMs, 0.001)
	assert.Equal(t, int64(3000), m.MaxProcessingMs)
	assert.Equal(t, int64(0), m.TimeoutCount)
}

func TestTimeoutCountedOnce(t *testing.T) {
	c, mock := newTestCoordinator(time.Minute)

	c.Enqueue(types.AskRequest{SessionID: "slow", Kind: types.AskIntervention})
	mock.Add(2 * time.Minute)

	c.CheckTimeouts(0)
	c.CheckTimeouts(0)
	assert.Equal(t, int64(1), c.Metrics().TimeoutCount)

	// Resolution after timeout is still honored.
	ch := c.Enqueue(types.AskRequest{SessionID: "slow"})
	require.NoError(t, c.Resolve("slow", types.AskResponse{Text: "late answer"}))
	resp := <-ch
	assert.Equal(t, "late answer", resp.Text)
	assert.Equal(t, int64(1), c.Metrics().TimeoutCount)
}

func TestCheckTimeoutsReportsStuck(t *testing.T) {
	c, mock := newTestCoordinator(time.Hour)

	c.Enqueue(types.AskRequest{SessionID: "old", Kind: types.AskApproval})
	mock.Add(3 * time.Minute)
	c.Enqueue(types.AskRequest{SessionID: "fresh", Kind: types.AskApproval})

	stuck := c.CheckTimeouts(2 * time.Minute)
	assert.Equal(t, []string{"old"}, stuck)
}

func TestQueueStatusOldestWait(t *testing.T) {
	c, mock := newTestCoordinator(0)

	assert.Zero(t, c.QueueStatus().OldestWaitMs)

	c.Enqueue(types.AskRequest{SessionID: "s1", Kind: types.AskApproval})
	mock.Add(1500 * time.Millisecond)
	c.Enqueue(types.AskRequest{SessionID: "s2", Kind: types.AskApproval})

	status := c.QueueStatus()
	assert.Equal(t, 2, status.Size)
	assert.Equal(t, int64(1500), status.OldestWaitMs)
}
