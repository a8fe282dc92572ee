package builtin

import (
	"context"
	"fmt"

	"github.com/fudanyi/agentflow/internal/tools"
)

// resultReporterDescription mirrors
// extensions/tool/result_reporter.py's ResultReporter docstring.
const resultReporterDescription = "Adds and reports deliverables including reports, slides, dashboards, charts, markdown, HTML, and other types. " +
	"For json and image files sharing a name, report only once as chart with the json filename. " +
	"For html/css/js that work together, report only once as webpage with the html filename. " +
	"Use this tool to report final results and deliverables at the end of a plan execution."

// deliverableTypes enumerates the allowed deliverable "type" values.
var deliverableTypes = map[string]bool{
	"webpage": true, "chart": true, "markdown": true, "pdf": true, "data": true, "other": true,
}

// RegisterResultReporter registers the result_reporter tool used by
// PlanningFlow's finalization step (SPEC_FULL.md §4.10) to surface the
// deliverables produced during a run.
func RegisterResultReporter(r *tools.Registry) error {
	return r.Register(tools.Descriptor{
		Name:        "result_reporter",
		Description: resultReporterDescription,
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"type": "string", "enum": []any{"report_deliverables"}},
				"deliverables": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"filename":    map[string]any{"type": "string"},
							"title":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"is_main":     map[string]any{"type": "boolean"},
							"type":        map[string]any{"type": "string"},
						},
						"required": []any{"filename", "title", "description", "type"},
					},
				},
			},
			"required": []any{"action", "deliverables"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		action, _ := args["action"].(string)
		if action != "report_deliverables" {
			return tools.Result{Error: fmt.Sprintf("Unknown action: %s", action)}, nil
		}
		raw, _ := args["deliverables"].([]any)
		deliverables := make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, field := range []string{"filename", "title", "description", "type"} {
				if _, ok := obj[field]; !ok {
					return tools.Result{Error: fmt.Sprintf("missing required field %q in deliverable", field)}, nil
				}
			}
			typ, _ := obj["type"].(string)
			if !deliverableTypes[typ] {
				return tools.Result{Error: fmt.Sprintf("invalid type %q in deliverable", typ)}, nil
			}
			deliverables = append(deliverables, obj)
		}
		return tools.Result{Output: fmt.Sprintf("reported %d deliverables", len(deliverables))}, nil
	})
}
