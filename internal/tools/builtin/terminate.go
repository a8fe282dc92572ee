// Package builtin provides a small reference tool set so the orchestrator
// has runnable edges: terminate, python_execute, file_saver, datasource,
// web_search, human_input, planning, and result_reporter. Per SPEC_FULL.md §1/§4.4, the individual
// tool implementations are an out-of-scope external collaborator — these
// are intentionally minimal stand-ins, not production tool implementations
// (no sandboxing, no real SQL/search backends).
package builtin

import (
	"context"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/tools"
)

// terminateDescription is taken verbatim from
// _examples/original_source/app/tool/terminate.py.
const terminateDescription = `Terminate the interaction when user asks for end the task OR when the request is met of current step OR if the assistant cannot proceed further with the task.
When user asks for end the task, call this tool to end the work.
When you have finished all the tasks, call this tool to end the work.
When you cannot proceed further with the task, call this tool to end the work.
`

// RegisterTerminate registers the one built-in special tool: its successful
// execution causes the owning agent's state to become finished.
func RegisterTerminate(r *tools.Registry, b *bus.Bus) error {
	return r.Register(tools.Descriptor{
		Name:        "terminate",
		Description: terminateDescription,
		Special:     true,
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"description": "The finish status of the interaction.",
					"enum":        []any{"success", "failure"},
				},
			},
			"required": []any{"status"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		status, _ := args["status"].(string)
		if b != nil {
			b.Print(bus.TypeTerminate, "Terminating interaction with status: "+status, map[string]any{"status": status})
		}
		return tools.Result{Output: "The interaction has been completed with status: " + status}, nil
	})
}
