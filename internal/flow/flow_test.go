package flow

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fudanyi/agentflow/internal/bus"
	"github.com/fudanyi/agentflow/internal/llm"
	"github.com/fudanyi/agentflow/internal/memory"
	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/planmodel"
	"github.com/fudanyi/agentflow/internal/reactagent"
	"github.com/fudanyi/agentflow/internal/tools"
)

// scriptedClient replays a fixed sequence of responses, matching the
// reactagent package's own test fake. Since Gateway.AskTool always streams,
// each response is replayed as its equivalent chunk sequence.
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

func registryWithTerminateAndPlanning(t *testing.T, pt *planmodel.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	err := r.Register(tools.Descriptor{
		Name:        "terminate",
		Description: "Ends the interaction.",
		Special:     true,
		ParameterSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"status": map[string]any{"type": "string"}},
		},
	}, func(ctx context.Context, args map[string]any) (tools.Result, error) {
		return tools.Result{Output: "done"}, nil
	})
	require.NoError(t, err)
	return r
}

func TestExecute_RunsSingleStepPlanAndFinalizes(t *testing.T) {
	pt := planmodel.NewTool()
	registry := registryWithTerminateAndPlanning(t, pt)

	// The plan is created directly against the shared planmodel.Tool,
	// standing in for an earlier planning turn; Execute is then called with
	// empty input, so the planning agent itself does not run.
	plan, err := pt.Create("plan_1", "Demo plan", []planmodel.Section{
		{Title: "Work", Steps: []string{"do the thing"}, Types: []string{"default"}},
	})
	require.NoError(t, err)
	pt.SetActivePlanID(plan.PlanID)

	planningClient := &scriptedClient{
		responses: []*model.Response{
			{ToolCalls: []model.ToolCall{{ID: "c1", Function: model.ToolCallFunc{Name: "terminate", Arguments: `{"status":"success"}`}}}},
		},
	}
	planningGW := llm.New(planningClient, "test-model")
	mem := memory.New()
	planningAgent := reactagent.New(reactagent.Config{Name: "planner", MaxSteps: 3}, planningGW, registry, mem, nil, nil)

	execClient := &scriptedClient{
		responses: []*model.Response{
			{ToolCalls: []model.ToolCall{{ID: "c2", Function: model.ToolCallFunc{Name: "terminate", Arguments: `{"status":"success"}`}}}},
		},
	}
	execGW := llm.New(execClient, "test-model")
	executor := reactagent.New(reactagent.Config{Name: "executor", MaxSteps: 3}, execGW, registry, mem, nil, nil)

	finalizeClient := &scriptedClient{
		responses: []*model.Response{
			{Content: "All done.", ToolCalls: []model.ToolCall{
				{ID: "c3", Function: model.ToolCallFunc{Name: "result_reporter", Arguments: `{"action":"report_deliverables","deliverables":[{"filename":"out.md","title":"Report","description":"x","type":"markdown"}]}`}},
			}},
		},
	}
	finalizeGW := llm.New(finalizeClient, "test-model")

	b := bus.New(t.TempDir(), nil)

	f := New(Config{
		PlanningAgent:   planningAgent,
		Executors:       map[string]*reactagent.Agent{"default": executor},
		ExecutorKeys:    []string{"default"},
		PlanningTool:    pt,
		Memory:          mem,
		FinalizeGateway: finalizeGW,
		Bus:             b,
		ActivePlanID:    plan.PlanID,
	})

	result, err := f.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, result, "All done.")

	got, err := pt.Get(plan.PlanID)
	require.NoError(t, err)
	assert.Equal(t, planmodel.StatusCompleted, got.StepStatuses[0])
}

func TestGetExecutor_FallsBackToExecutorKeysThenAny(t *testing.T) {
	fallback := &reactagent.Agent{}
	f := New(Config{
		Executors:    map[string]*reactagent.Agent{"fallback": fallback},
		ExecutorKeys: []string{"fallback"},
	})
	assert.Same(t, fallback, f.getExecutor("unknown-type"))
}

func TestRunDeadlines_ZeroBudgetNeverFinalizesEarly(t *testing.T) {
	d := newRunDeadlines(0, 0)
	assert.False(t, d.shouldFinalize(time.Now().Add(24*time.Hour)))
}

func TestRunDeadlines_ShouldFinalizeWithinGraceOfHardDeadline(t *testing.T) {
	d := newRunDeadlines(time.Hour, time.Minute)
	assert.False(t, d.shouldFinalize(time.Now()))
	assert.True(t, d.shouldFinalize(d.Hard.Add(-30*time.Second)))
}
