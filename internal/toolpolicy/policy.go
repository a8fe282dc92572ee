// Package toolpolicy restricts which tools a given agent may see and call,
// adapted from
// _examples/goadesign-goa-ai/features/policy/basic/engine.go's allow/block
// tool-id filtering. The teacher's RetryHint/policy.Input machinery belongs
// to goa-ai's planner/executor RPC split, which this orchestrator doesn't
// have (see DESIGN.md); what's kept is the simple per-agent allowlist
// concept, matching how
// _examples/original_source/extensions/agent/planner.py's Planner and
// extensions/agent/data_analyst.py's DataAnalyst each declare a distinct
// available_tools collection from the same underlying tool implementations.
package toolpolicy

import "github.com/fudanyi/agentflow/internal/model"

// Policy is a per-agent tool allowlist. A nil or empty Policy allows every
// tool, matching "no policy configured" behavior.
type Policy struct {
	allow map[string]bool
}

// New builds a Policy restricting tool access to the given names. An empty
// names list allows every tool (no restriction).
func New(names ...string) *Policy {
	if len(names) == 0 {
		return nil
	}
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}
	return &Policy{allow: allow}
}

// IsAllowed reports whether name is permitted under p. A nil Policy allows
// everything.
func (p *Policy) IsAllowed(name string) bool {
	if p == nil || len(p.allow) == 0 {
		return true
	}
	return p.allow[name]
}

// Filter returns the subset of defs this Policy permits, preserving order.
func (p *Policy) Filter(defs []model.ToolDefinition) []model.ToolDefinition {
	if p == nil || len(p.allow) == 0 {
		return defs
	}
	out := make([]model.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if p.IsAllowed(d.Name) {
			out = append(out, d)
		}
	}
	return out
}
