package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fudanyi/agentflow/internal/tools"
)

// RegisterFileSaver registers a file_saver tool writing text content to a
// path under the working directory.
func RegisterFileSaver(r *tools.Registry) error {
	return r.Register(tools.Descriptor{
		Name:        "file_saver",
		Description: "Saves text content to a local file.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string", "description": "Destination file path."},
				"content":   map[string]any{"type": "string", "description": "Content to write."},
			},
			"required": []any{"file_path", "content"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		path, _ := args["file_path"].(string)
		content, _ := args["content"].(string)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return tools.Result{Error: "file_saver failed: " + err.Error()}, nil
		}
		return tools.Result{Output: "Saved to " + path, OutputFiles: []string{path}}, nil
	})
}

// RegisterDatasource registers a datasource stand-in that reports a
// csv_filename, the marker summarization (§4.9) looks for to preserve this
// tool's results across compression.
func RegisterDatasource(r *tools.Registry) error {
	return r.Register(tools.Descriptor{
		Name:                "datasource",
		Description:         "Runs a query against a configured datasource and writes the result to CSV.",
		PreserveOnSummarize: true,
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "The query to run."},
			},
			"required": []any{"query"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		query, _ := args["query"].(string)
		filename := "query_result.csv"
		return tools.Result{
			Output:      fmt.Sprintf("query %q executed; results written to %s", query, filename),
			CSVFilename: filename,
		}, nil
	})
}

// RegisterWebSearch registers a minimal web_search stand-in.
func RegisterWebSearch(r *tools.Registry) error {
	return r.Register(tools.Descriptor{
		Name:        "web_search",
		Description: "Searches the web for the given query and returns a short summary.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		query, _ := args["query"].(string)
		return tools.Result{Output: "no web search backend configured; query was: " + query}, nil
	})
}

// RegisterHumanInput registers a human_input tool reading one line from
// stdin, used by the planning agent to interactively refine a plan
// (SPEC_FULL.md §4.8).
func RegisterHumanInput(r *tools.Registry, in *bufio.Reader) error {
	return r.Register(tools.Descriptor{
		Name:        "human_input",
		Description: "Asks the human operator a clarifying question and waits for a reply.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
			},
			"required": []any{"question"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		question, _ := args["question"].(string)
		fmt.Println(question)
		line, err := in.ReadString('\n')
		if err != nil {
			return tools.Result{Error: "human_input failed: " + err.Error()}, nil
		}
		return tools.Result{Output: strings.TrimRight(line, "\n")}, nil
	})
}
