// Package dispatch routes completed tool-call blocks to external tool
// collaborators and normalizes every outcome into a tool-result part.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
)

// Tool is the uniform shape the dispatcher requires from every external
// tool collaborator, regardless of family (navigation, debugging,
// editing, browser).
type Tool interface {
	// Name returns the tool identifier the model invokes it by.
	Name() string

	// Description returns the tool description offered to the model.
	Description() string

	// Parameters returns the JSON Schema for the tool's arguments.
	Parameters() json.RawMessage

	// Execute runs the tool. A returned error becomes a tool-error result
	// message, never a fault.
	Execute(ctx context.Context, args json.RawMessage, tctx *Context) (*Result, error)
}

// Context carries per-invocation execution context into a tool.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	WorkDir   string
}

// Result is a successful tool outcome.
type Result struct {
	Output   string
	Metadata map[string]any
}

// Registry maps tool names to collaborators.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; re-registering a name replaces it.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}
