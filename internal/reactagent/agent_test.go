package reactagent

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fudanyi/agentflow/internal/llm"
	"github.com/fudanyi/agentflow/internal/memory"
	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/tools"
)

// scriptedClient replays a fixed sequence of responses. Since Gateway.AskTool
// always streams, each response is replayed as its equivalent chunk sequence
// rather than returned directly from Complete.
type scriptedClient struct {
	responses []*model.Response
	i         int
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if c.i >= len(c.responses) {
		return &model.Response{}, nil
	}
	r := c.responses[c.i]
	c.i++
	return r, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	if c.i >= len(c.responses) {
		return &scriptedStreamer{}, nil
	}
	r := c.responses[c.i]
	c.i++
	return &scriptedStreamer{chunks: chunksFromResponse(r)}, nil
}

// chunksFromResponse turns a scripted Response into the chunk sequence a
// real provider streamer would have produced for it.
func chunksFromResponse(r *model.Response) []model.Chunk {
	var chunks []model.Chunk
	if r.Content != "" {
		chunks = append(chunks, model.Chunk{Type: model.ChunkText, TextDelta: r.Content})
	}
	for i, tc := range r.ToolCalls {
		chunks = append(chunks, model.Chunk{Type: model.ChunkToolCall, ToolCallDelta: &model.ToolCallDelta{
			Index: i, ID: tc.ID, Name: tc.Function.Name, ArgumentsFragment: tc.Function.Arguments,
		}})
	}
	usage := r.Usage
	chunks = append(chunks, model.Chunk{Type: model.ChunkUsage, Usage: &usage})
	stopReason := r.StopReason
	if stopReason == "" {
		if len(r.ToolCalls) > 0 {
			stopReason = "tool_calls"
		} else {
			stopReason = "stop"
		}
	}
	chunks = append(chunks, model.Chunk{Type: model.ChunkStop, StopReason: stopReason})
	return chunks
}

type scriptedStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *scriptedStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *scriptedStreamer) Close() error { return nil }

func registryWithTerminate(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	err := r.Register(tools.Descriptor{
		Name:        "terminate",
		Description: "Ends the interaction.",
		Special:     true,
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{"type": "string", "enum": []any{"success", "failure"}},
			},
			"required": []any{"status"},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		status, _ := args["status"].(string)
		return tools.Result{Output: "The interaction has been completed with status: " + status}, nil
	})
	require.NoError(t, err)
	return r
}

func TestRun_TerminateToolFinishesTheAgent(t *testing.T) {
	client := &scriptedClient{
		responses: []*model.Response{
			{
				ToolCalls: []model.ToolCall{
					{ID: "call_1", Function: model.ToolCallFunc{Name: "terminate", Arguments: `{"status":"success"}`}},
				},
			},
		},
	}
	gw := llm.New(client, "test-model")
	registry := registryWithTerminate(t)
	mem := memory.New()

	a := New(Config{Name: "tester", MaxSteps: 5}, gw, registry, mem, nil, nil)

	result, state, err := a.Run(context.Background(), "please terminate")
	require.NoError(t, err)
	assert.Equal(t, StateFinished, state)
	assert.Contains(t, result, "completed with status: success")
}

func TestRun_UnknownToolProducesErrorObservationAndContinues(t *testing.T) {
	client := &scriptedClient{
		responses: []*model.Response{
			{
				ToolCalls: []model.ToolCall{
					{ID: "call_1", Function: model.ToolCallFunc{Name: "nonexistent_tool", Arguments: `{}`}},
				},
			},
			{
				ToolCalls: []model.ToolCall{
					{ID: "call_2", Function: model.ToolCallFunc{Name: "terminate", Arguments: `{"status":"success"}`}},
				},
			},
		},
	}
	gw := llm.New(client, "test-model")
	registry := registryWithTerminate(t)
	mem := memory.New()

	a := New(Config{Name: "tester", MaxSteps: 5}, gw, registry, mem, nil, nil)

	result, state, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StateFinished, state)
	assert.Contains(t, result, "completed with status: success")
}

func TestRun_StepBudgetExhaustedWithoutSpecialToolFinishes(t *testing.T) {
	client := &scriptedClient{
		responses: []*model.Response{
			{Content: "still thinking"},
			{Content: "still thinking"},
		},
	}
	gw := llm.New(client, "test-model")
	registry := registryWithTerminate(t)
	mem := memory.New()

	a := New(Config{Name: "tester", MaxSteps: 2}, gw, registry, mem, nil, nil)

	_, state, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StateFinished, state)
}

func TestRun_ToolOutsideAllowedToolsProducesErrorObservation(t *testing.T) {
	client := &scriptedClient{
		responses: []*model.Response{
			{ToolCalls: []model.ToolCall{{ID: "call_1", Function: model.ToolCallFunc{Name: "planning", Arguments: `{}`}}}},
			{ToolCalls: []model.ToolCall{{ID: "call_2", Function: model.ToolCallFunc{Name: "terminate", Arguments: `{"status":"success"}`}}}},
		},
	}
	gw := llm.New(client, "test-model")
	registry := registryWithTerminate(t)
	require.NoError(t, registry.Register(tools.Descriptor{Name: "planning", Description: "plan crud"}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		return tools.Result{Output: "should not run"}, nil
	}))
	mem := memory.New()

	a := New(Config{Name: "tester", MaxSteps: 5, AllowedTools: []string{"terminate"}}, gw, registry, mem, nil, nil)

	result, state, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, StateFinished, state)
	assert.Contains(t, result, "completed with status: success")

	found := false
	for _, m := range mem.Messages() {
		if m.Role == model.RoleTool && m.Name == "planning" {
			assert.Contains(t, m.Text(), "not available to this agent")
			found = true
		}
	}
	assert.True(t, found, "expected a tool observation for the disallowed planning call")
}
