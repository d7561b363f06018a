// Package permission provides the approval policy and repetition guard
// consulted before any tool execution.
package permission

import "encoding/json"

// Action is the policy outcome for a tool invocation.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// ApprovalPolicy decides whether a tool invocation may run, must be
// denied, or requires a human decision.
type ApprovalPolicy interface {
	Action(tool string, args json.RawMessage) Action
}

// RejectedError is returned when a tool invocation is denied, either by
// configuration or by the human.
type RejectedError struct {
	SessionID string
	Tool      string
	CallID    string
	Message   string
}

func (e *RejectedError) Error() string { return e.Message }

// IsRejected checks whether an error is a permission rejection.
func IsRejected(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}

// TablePolicy is a per-tool action table with a default for unlisted
// tools.
type TablePolicy struct {
	Tools   map[string]Action
	Default Action
}

// NewTablePolicy creates a policy with the given per-tool actions.
func NewTablePolicy(tools map[string]Action, def Action) *TablePolicy {
	if tools == nil {
		tools = make(map[string]Action)
	}
	if def == "" {
		def = ActionAsk
	}
	return &TablePolicy{Tools: tools, Default: def}
}

// Action implements ApprovalPolicy.
func (p *TablePolicy) Action(tool string, args json.RawMessage) Action {
	if a, ok := p.Tools[tool]; ok {
		return a
	}
	return p.Default
}

// AllowAll is a policy that approves everything; used by read-only tool
// sets and tests.
type AllowAll struct{}

func (AllowAll) Action(tool string, args json.RawMessage) Action { return ActionAllow }
