// Package registry tracks every live session in the instance: the flat
// id index, the LIFO primary stack, and the parallel set.
package registry

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/strand-ai/strand/internal/ask"
	"github.com/strand-ai/strand/pkg/types"
)

// Session is the view of a session the registry needs. The concrete type
// lives in internal/session; keeping an interface here avoids a cycle.
type Session interface {
	ID() string
	Info() types.SessionInfo
	State() types.SessionState
	Summary() types.SessionSummary
	// Disposed is closed exactly once when the session is disposed.
	Disposed() <-chan struct{}
}

// Registry is the instance-wide session index. Sessions appear in byID
// always, plus either the primary stack or the parallel set depending on
// how they were created.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]Session
	stack    []string            // primary session IDs, top is last
	parallel map[string]struct{} // parallel session IDs

	watchers map[string]chan struct{} // per-session watcher stop channels

	asks *ask.Coordinator
	log  zerolog.Logger
}

// New creates an empty registry. The coordinator may be nil in tests; a
// nil coordinator skips ask cleanup on unregister.
func New(asks *ask.Coordinator, log zerolog.Logger) *Registry {
	return &Registry{
		byID:     make(map[string]Session),
		parallel: make(map[string]struct{}),
		watchers: make(map[string]chan struct{}),
		asks:     asks,
		log:      log,
	}
}

// Register adds a session to the id index and starts its disposal
// watcher. Registration is idempotent: re-registering a known id is a
// no-op and existing stack or parallel membership is untouched.
func (r *Registry) Register(s Session) {
	r.mu.Lock()
	if _, exists := r.byID[s.ID()]; exists {
		r.mu.Unlock()
		return
	}
	r.byID[s.ID()] = s
	stop := make(chan struct{})
	r.watchers[s.ID()] = stop
	r.mu.Unlock()

	r.log.Debug().Str("session", s.ID()).Msg("session registered")
	go r.watch(s, stop)
}

// watch unregisters the session when it disposes.
func (r *Registry) watch(s Session, stop chan struct{}) {
	select {
	case <-s.Disposed():
		r.Unregister(s.ID())
	case <-stop:
	}
}

// Unregister removes a session from every collection, stops its watcher,
// and withdraws any pending ask. Unknown ids are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	if _, exists := r.byID[id]; !exists {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	delete(r.parallel, id)
	for i, sid := range r.stack {
		if sid == id {
			r.stack = append(r.stack[:i], r.stack[i+1:]...)
			break
		}
	}
	if stop, ok := r.watchers[id]; ok {
		close(stop)
		delete(r.watchers, id)
	}
	r.mu.Unlock()

	if r.asks != nil {
		r.asks.Cancel(id)
	}
	r.log.Debug().Str("session", id).Msg("session unregistered")
}

// Get returns a registered session by id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// PushPrimary puts a session on top of the primary stack. The session
// must already be registered, must not be parallel, and a session sits
// in at most one of the stack or the parallel set; violating calls are
// logged as caller bugs and ignored. Membership is idempotent.
func (r *Registry) PushPrimary(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, exists := r.byID[id]
	if !exists {
		return
	}
	if s.Info().IsParallel {
		r.log.Warn().Str("session", id).Msg("caller bug: parallel session pushed on the primary stack")
		return
	}
	if _, inParallel := r.parallel[id]; inParallel {
		r.log.Warn().Str("session", id).Msg("caller bug: parallel member pushed on the primary stack")
		return
	}
	for _, sid := range r.stack {
		if sid == id {
			return
		}
	}
	r.stack = append(r.stack, id)
}

// PopPrimary removes and returns the top of the primary stack.
func (r *Registry) PopPrimary() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return nil, false
	}
	id := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	s, ok := r.byID[id]
	return s, ok
}

// Primary returns the session on top of the primary stack without
// removing it.
func (r *Registry) Primary() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.stack) == 0 {
		return nil, false
	}
	s, ok := r.byID[r.stack[len(r.stack)-1]]
	return s, ok
}

// StackDepth returns the primary stack depth.
func (r *Registry) StackDepth() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stack)
}

// AddParallel records a session as a parallel member. A session already
// on the primary stack stays there; the violating call is logged as a
// caller bug and ignored.
func (r *Registry) AddParallel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		return
	}
	for _, sid := range r.stack {
		if sid == id {
			r.log.Warn().Str("session", id).Msg("caller bug: stacked session added to the parallel set")
			return
		}
	}
	r.parallel[id] = struct{}{}
}

// RemoveParallel drops a session from the parallel set.
func (r *Registry) RemoveParallel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.parallel, id)
}

// AllActive returns every registered session whose state is not
// terminal.
func (r *Registry) AllActive() []Session {
	r.mu.RLock()
	sessions := make([]Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	active := sessions[:0]
	for _, s := range sessions {
		if !s.State().Terminal() {
			active = append(active, s)
		}
	}
	return active
}

// All returns every registered session.
func (r *Registry) All() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// orphans returns ids present in byID but absent from both the primary
// stack and the parallel set. Every session belongs to exactly one of
// the two, so a miss signals a caller bug. Callers log these; the
// registry never heals them.
func (r *Registry) orphans() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	onStack := make(map[string]struct{}, len(r.stack))
	for _, id := range r.stack {
		onStack[id] = struct{}{}
	}
	var out []string
	for id := range r.byID {
		if _, ok := onStack[id]; ok {
			continue
		}
		if _, ok := r.parallel[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// missingParents returns ids of sessions whose parent is no longer
// registered. Diagnostic only, reported alongside orphans.
func (r *Registry) missingParents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, s := range r.byID {
		info := s.Info()
		if info.ParentID == nil {
			continue
		}
		if _, ok := r.byID[*info.ParentID]; !ok {
			out = append(out, id)
		}
	}
	return out
}
