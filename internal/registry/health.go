package registry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/strand-ai/strand/internal/ask"
	"github.com/strand-ai/strand/internal/event"
	"github.com/strand-ai/strand/pkg/types"
)

// HealthMonitor periodically sweeps the registry and the ask queue. It
// observes and reports; it never mutates session state. Orphaned
// sessions are logged so an operator can decide, and asks that sit past
// the stuck threshold get a warning each sweep.
type HealthMonitor struct {
	registry *Registry
	asks     *ask.Coordinator
	bus      *event.Bus

	interval       time.Duration
	stuckThreshold time.Duration
	clock          clock.Clock
	log            zerolog.Logger

	lastTotalAsks int64
}

// NewHealthMonitor creates a monitor; clk may be nil for wall-clock
// time.
func NewHealthMonitor(reg *Registry, asks *ask.Coordinator, bus *event.Bus, interval, stuckThreshold time.Duration, clk clock.Clock, log zerolog.Logger) *HealthMonitor {
	if clk == nil {
		clk = clock.New()
	}
	return &HealthMonitor{
		registry:       reg,
		asks:           asks,
		bus:            bus,
		interval:       interval,
		stuckThreshold: stuckThreshold,
		clock:          clk,
		log:            log,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one health pass and publishes a report.
func (m *HealthMonitor) Sweep() {
	active := m.registry.AllActive()

	orphaned := m.registry.orphans()
	for _, id := range orphaned {
		m.log.Warn().Str("session", id).Msg("orphaned session: on neither the primary stack nor the parallel set")
	}
	for _, id := range m.registry.missingParents() {
		m.log.Warn().Str("session", id).Msg("session parent no longer registered")
	}

	var stuck []string
	var metrics types.AskMetrics
	if m.asks != nil {
		stuck = m.asks.CheckTimeouts(m.stuckThreshold)
		for _, id := range stuck {
			m.log.Warn().Str("session", id).Msg("ask pending past stuck threshold")
		}
		metrics = m.asks.Metrics()
	}

	// Snapshot metrics only when asks were resolved since the last sweep,
	// so idle instances stay quiet.
	if metrics.TotalAsks != m.lastTotalAsks {
		m.lastTotalAsks = metrics.TotalAsks
		m.log.Info().
			Int64("totalAsks", metrics.TotalAsks).
			Float64("avgMs", metrics.AvgProcessingMs).
			Int64("maxMs", metrics.MaxProcessingMs).
			Int64("timeouts", metrics.TimeoutCount).
			Msg("ask metrics")
	}

	if m.bus != nil {
		m.bus.Publish(event.Event{
			Type: event.HealthReport,
			Data: event.HealthReportData{
				ActiveSessions: len(active),
				Orphaned:       orphaned,
				StuckAsks:      stuck,
				Metrics:        metrics,
			},
		})
	}
}
