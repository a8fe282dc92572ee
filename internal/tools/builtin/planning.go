package builtin

import (
	"context"
	"fmt"

	"github.com/fudanyi/agentflow/internal/planmodel"
	"github.com/fudanyi/agentflow/internal/tools"
)

// planningDescription mirrors app/tool/planning.py's PlanningTool docstring:
// a single multi-command tool exposing plan CRUD to the planning agent.
const planningDescription = "A planning tool that allows the agent to create and manage plans for solving complex tasks. " +
	"The tool provides functionality for creating plans with sections of steps, updating plan steps, and tracking progress."

// RegisterPlanning registers the "planning" tool, dispatching its single
// `command` argument to the bound planmodel.Tool, per SPEC_FULL.md §4.6/§4.8.
func RegisterPlanning(r *tools.Registry, pt *planmodel.Tool) error {
	return r.Register(tools.Descriptor{
		Name:        "planning",
		Description: planningDescription,
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"enum":        []any{"create", "update", "list", "get", "set_active", "mark_step", "delete"},
					"description": "The planning command to execute.",
				},
				"plan_id":     map[string]any{"type": "string"},
				"title":       map[string]any{"type": "string"},
				"sections":    map[string]any{"type": "array"},
				"step_index":  map[string]any{"type": "integer"},
				"step_status": map[string]any{"type": "string", "enum": []any{"not_started", "in_progress", "completed", "blocked"}},
				"step_notes":  map[string]any{"type": "string"},
			},
			"required": []any{"command"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		return executePlanningCommand(pt, args)
	})
}

func executePlanningCommand(pt *planmodel.Tool, args map[string]any) (tools.Result, error) {
	command, _ := args["command"].(string)
	planID, _ := args["plan_id"].(string)

	switch command {
	case "create":
		title, _ := args["title"].(string)
		sections, err := decodeSections(args["sections"])
		if err != nil {
			return tools.Result{Error: err.Error()}, nil
		}
		plan, err := pt.Create(planID, title, sections)
		if err != nil {
			return tools.Result{Error: err.Error()}, nil
		}
		return tools.Result{Output: fmt.Sprintf("Plan created successfully with ID: %s\n\n%s", plan.PlanID, planmodel.Format(plan))}, nil

	case "update":
		var titlePtr *string
		if title, ok := args["title"].(string); ok {
			titlePtr = &title
		}
		var sections []planmodel.Section
		if raw, ok := args["sections"]; ok {
			s, err := decodeSections(raw)
			if err != nil {
				return tools.Result{Error: err.Error()}, nil
			}
			sections = s
		}
		plan, err := pt.Update(planID, titlePtr, sections)
		if err != nil {
			return tools.Result{Error: err.Error()}, nil
		}
		return tools.Result{Output: fmt.Sprintf("Plan updated successfully: %s\n\n%s", plan.PlanID, planmodel.Format(plan))}, nil

	case "list":
		ids := pt.List()
		if len(ids) == 0 {
			return tools.Result{Output: "No plans found."}, nil
		}
		out := "Available plans:\n"
		for _, id := range ids {
			out += "- " + id + "\n"
		}
		return tools.Result{Output: out}, nil

	case "get":
		plan, err := pt.Get(planID)
		if err != nil {
			return tools.Result{Error: err.Error()}, nil
		}
		return tools.Result{Output: planmodel.Format(plan)}, nil

	case "set_active":
		if err := pt.SetActive(planID); err != nil {
			return tools.Result{Error: err.Error()}, nil
		}
		return tools.Result{Output: fmt.Sprintf("Plan '%s' is now the active plan.", planID)}, nil

	case "mark_step":
		stepIndex, _ := toInt(args["step_index"])
		var statusPtr *planmodel.StepStatus
		if s, ok := args["step_status"].(string); ok {
			st := planmodel.StepStatus(s)
			statusPtr = &st
		}
		var notesPtr *string
		if n, ok := args["step_notes"].(string); ok {
			notesPtr = &n
		}
		plan, err := pt.MarkStep(planID, stepIndex, statusPtr, notesPtr)
		if err != nil {
			return tools.Result{Error: err.Error()}, nil
		}
		return tools.Result{Output: fmt.Sprintf("Step %d updated in plan '%s'.\n\n%s", stepIndex, plan.PlanID, planmodel.Format(plan))}, nil

	case "delete":
		if err := pt.Delete(planID); err != nil {
			return tools.Result{Error: err.Error()}, nil
		}
		return tools.Result{Output: fmt.Sprintf("Plan '%s' has been deleted.", planID)}, nil

	default:
		return tools.Result{Error: fmt.Sprintf("Unrecognized command: %s. Allowed commands are: create, update, list, get, set_active, mark_step, delete", command)}, nil
	}
}

func decodeSections(raw any) ([]planmodel.Section, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("sections must be an array")
	}
	out := make([]planmodel.Section, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("each section must be an object")
		}
		title, _ := obj["title"].(string)
		steps := toStringSlice(obj["steps"])
		types := toStringSlice(obj["types"])
		out = append(out, planmodel.Section{Title: title, Steps: steps, Types: types})
	}
	return out, nil
}

func toStringSlice(raw any) []string {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
