package builtin

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/fudanyi/agentflow/internal/tools"
)

// pythonExecuteTimeout mirrors SPEC_FULL.md §5's ~150s default for
// code-execution-class tools.
const pythonExecuteTimeout = 150 * time.Second

// RegisterPythonExecute registers a minimal python_execute tool: it shells
// out to a short-timeout subprocess running the supplied code and returns
// its stdout/stderr as the observation. It never writes files, so
// OutputFiles is always empty — a real deployment would sandbox this and
// surface produced artifacts.
func RegisterPythonExecute(r *tools.Registry) error {
	return r.Register(tools.Descriptor{
		Name:                "python_execute",
		Description:         "Executes Python code and returns its output. Only print output is visible; function return values are not captured.",
		PreserveOnSummarize: true,
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "The Python code to execute.",
				},
			},
			"required": []any{"code"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		code, _ := args["code"].(string)

		ctx, cancel := context.WithTimeout(ctx, pythonExecuteTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "python3", "-c", code)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return tools.Result{Error: "python_execute failed: " + err.Error() + "\n" + stderr.String()}, nil
		}
		return tools.Result{Output: stdout.String()}, nil
	})
}
