// Package core assembles the orchestration components and exposes the
// operations a host channel drives: create, respond, abort, observe.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/strand-ai/strand/internal/ask"
	"github.com/strand-ai/strand/internal/dispatch"
	"github.com/strand-ai/strand/internal/event"
	"github.com/strand-ai/strand/internal/executor"
	"github.com/strand-ai/strand/internal/history"
	"github.com/strand-ai/strand/internal/logging"
	"github.com/strand-ai/strand/internal/permission"
	"github.com/strand-ai/strand/internal/provider"
	"github.com/strand-ai/strand/internal/registry"
	"github.com/strand-ai/strand/internal/session"
	"github.com/strand-ai/strand/internal/storage"
	"github.com/strand-ai/strand/pkg/types"
)

// Options configure optional collaborators. Zero values fall back to the
// built-in defaults.
type Options struct {
	Policy       permission.ApprovalPolicy
	Repetition   permission.RepetitionDetector
	Tools        []dispatch.Tool
	Store        *storage.Store
	Clock        clock.Clock
	SystemPrompt string
	WorkDir      string
}

// Core owns the shared collaborators and the session registry.
type Core struct {
	cfg *types.Config

	bus        *event.Bus
	exec       *executor.Executor
	condenser  *history.Condenser
	asks       *ask.Coordinator
	registry   *registry.Registry
	health     *registry.HealthMonitor
	dispatcher *dispatch.Dispatcher
	policy     permission.ApprovalPolicy
	repetition permission.RepetitionDetector
	store      *storage.Store

	systemPrompt string
	workDir      string
	instanceID   string

	mu        sync.Mutex
	sequences map[string]int // rootID -> next sequence

	group  *errgroup.Group
	runCtx context.Context
	cancel context.CancelFunc

	log zerolog.Logger
}

// New wires a core over the given transport.
func New(cfg *types.Config, transport provider.Transport, opts Options) *Core {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	log := logging.ForComponent("core")
	bus := event.NewBus()
	exec := executor.New(transport, cfg.Retry, logging.ForComponent("executor"))
	asks := ask.New(cfg.Ask.Timeout, clk, bus, logging.ForComponent("ask"))
	reg := registry.New(asks, logging.ForComponent("registry"))
	health := registry.NewHealthMonitor(reg, asks, bus,
		cfg.Health.Interval, cfg.Health.StuckAskThreshold, clk, logging.ForComponent("health"))

	toolReg := dispatch.NewRegistry()
	for _, t := range opts.Tools {
		toolReg.Register(t)
	}

	policy := opts.Policy
	if policy == nil {
		policy = permission.NewTablePolicy(nil, permission.ActionAsk)
	}
	repetition := opts.Repetition
	if repetition == nil {
		repetition = permission.NewHashDetector(0)
	}

	return &Core{
		cfg:          cfg,
		bus:          bus,
		exec:         exec,
		condenser:    history.NewCondenser(exec, cfg.Condense, logging.ForComponent("condense")),
		asks:         asks,
		registry:     reg,
		health:       health,
		dispatcher:   dispatch.NewDispatcher(toolReg, cfg.Dispatch.ToolTimeout, logging.ForComponent("dispatch")),
		policy:       policy,
		repetition:   repetition,
		store:        opts.Store,
		systemPrompt: opts.SystemPrompt,
		workDir:      opts.WorkDir,
		instanceID:   ulid.Make().String(),
		sequences:    make(map[string]int),
		log:          log,
	}
}

// Start launches background work (the health monitor) under ctx.
func (c *Core) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.group, c.runCtx = errgroup.WithContext(runCtx)
	c.group.Go(func() error {
		c.health.Run(c.runCtx)
		return nil
	})
}

// Shutdown aborts every active session and stops background work.
func (c *Core) Shutdown() {
	for _, s := range c.registry.AllActive() {
		if sess, ok := s.(*session.Session); ok {
			sess.Abort()
		}
	}
	if c.cancel != nil {
		c.cancel()
		c.group.Wait()
	}
	c.bus.Close()
}

// Bus exposes the event bus for host channels.
func (c *Core) Bus() *event.Bus { return c.bus }

// CreateSpec describes a session to create.
type CreateSpec struct {
	ParentID *string `json:"parentID,omitempty"`
	Parallel bool    `json:"parallel"`
	Prompt   string  `json:"prompt"`
}

// CreateSession registers a new session and starts its conversation loop
// in a supervised goroutine. A nested (non-parallel) child pauses its
// parent and goes on top of the primary stack; the parent resumes when
// the child disposes. Parallel children run alongside without touching
// the stack.
func (c *Core) CreateSession(spec CreateSpec) (types.SessionInfo, error) {
	var parent *session.Session
	if spec.ParentID != nil {
		reg, ok := c.registry.Get(*spec.ParentID)
		if !ok {
			return types.SessionInfo{}, fmt.Errorf("parent session not found: %s", *spec.ParentID)
		}
		parent, ok = reg.(*session.Session)
		if !ok || parent.State().Terminal() {
			return types.SessionInfo{}, fmt.Errorf("parent session not active: %s", *spec.ParentID)
		}
	}

	info := c.newInfo(parent, spec.Parallel)
	sess := session.New(info, session.Deps{
		Bus:          c.bus,
		Executor:     c.exec,
		Condenser:    c.condenser,
		Asks:         c.asks,
		Policy:       c.policy,
		Repetition:   c.repetition,
		Dispatcher:   c.dispatcher,
		Persist:      c.persistence(),
		Config:       c.cfg.Session,
		SystemPrompt: c.systemPrompt,
		WorkDir:      c.workDir,
	})

	c.registry.Register(sess)
	if c.store != nil {
		if err := c.store.SaveInfo(info); err != nil {
			c.log.Warn().Err(err).Str("session", info.ID).Msg("could not persist session info")
		}
	}

	if spec.Parallel {
		c.registry.AddParallel(info.ID)
	} else {
		if parent != nil {
			parent.Pause()
			go c.resumeOnDisposal(sess, parent)
		}
		c.registry.PushPrimary(info.ID)
	}

	if c.group == nil {
		// Not started; used by tests that drive time themselves.
		go sess.Run(context.Background(), spec.Prompt)
	} else {
		c.group.Go(func() error {
			sess.Run(c.runCtx, spec.Prompt)
			return nil
		})
	}

	c.log.Info().Str("session", info.ID).Bool("parallel", spec.Parallel).Msg("session created")
	return info, nil
}

// newInfo mints the identity record: root lineage and per-root sequence.
func (c *Core) newInfo(parent *session.Session, parallel bool) types.SessionInfo {
	id := ulid.Make().String()
	rootID := id
	var parentID *string
	if parent != nil {
		p := parent.ID()
		parentID = &p
		rootID = parent.Info().RootID
	}

	c.mu.Lock()
	seq := c.sequences[rootID]
	c.sequences[rootID] = seq + 1
	c.mu.Unlock()

	now := time.Now().UnixMilli()
	return types.SessionInfo{
		ID:         id,
		InstanceID: c.instanceID,
		ParentID:   parentID,
		RootID:     rootID,
		Sequence:   seq,
		IsParallel: parallel,
		Time:       types.SessionTime{Created: now, Updated: now},
	}
}

// resumeOnDisposal resumes the paused parent once the nested child
// disposes. The registry watcher already popped the child's stack entry.
func (c *Core) resumeOnDisposal(child, parent *session.Session) {
	<-child.Disposed()
	parent.Resume()
	c.log.Debug().Str("child", child.ID()).Str("parent", parent.ID()).Msg("parent resumed after child disposal")
}

// persistence adapts the optional store to the session interface.
func (c *Core) persistence() session.Persistence {
	if c.store == nil {
		return nil
	}
	return c.store
}

// Respond delivers the human's answer to a session's pending ask.
func (c *Core) Respond(sessionID string, resp types.AskResponse) error {
	return c.asks.Resolve(sessionID, resp)
}

// AbortSession requests cooperative termination of a session.
func (c *Core) AbortSession(sessionID string) error {
	reg, ok := c.registry.Get(sessionID)
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	sess, ok := reg.(*session.Session)
	if !ok {
		return fmt.Errorf("session not abortable: %s", sessionID)
	}
	sess.Abort()
	return nil
}

// GetSession returns the summary for one session.
func (c *Core) GetSession(sessionID string) (types.SessionSummary, error) {
	reg, ok := c.registry.Get(sessionID)
	if !ok {
		return types.SessionSummary{}, fmt.Errorf("session not found: %s", sessionID)
	}
	return reg.Summary(), nil
}

// ActiveSessions summarizes every non-terminal session.
func (c *Core) ActiveSessions() []types.SessionSummary {
	return lo.Map(c.registry.AllActive(), func(s registry.Session, _ int) types.SessionSummary {
		return s.Summary()
	})
}

// AskQueueStatus reports the current ask queue.
func (c *Core) AskQueueStatus() types.AskQueueStatus { return c.asks.QueueStatus() }

// Metrics reports the process-wide ask metrics.
func (c *Core) Metrics() types.AskMetrics { return c.asks.Metrics() }
