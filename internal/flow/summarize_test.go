package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fudanyi/agentflow/internal/llm"
	"github.com/fudanyi/agentflow/internal/memory"
	"github.com/fudanyi/agentflow/internal/model"
	"github.com/fudanyi/agentflow/internal/tools"
)

func registryWithSummarizableTools(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	noop := func(ctx context.Context, args map[string]any) (tools.Result, error) {
		return tools.Result{}, nil
	}
	require.NoError(t, r.Register(tools.Descriptor{Name: "python_execute", PreserveOnSummarize: true}, noop))
	require.NoError(t, r.Register(tools.Descriptor{Name: "datasource", PreserveOnSummarize: true}, noop))
	require.NoError(t, r.Register(tools.Descriptor{Name: "web_search"}, noop))
	return r
}

// TestSummarizeMemory_ReordersIntoRealResultsAndSummary is the S5 scenario
// from spec.md §8: after several steps, compressed memory is
// [original_request, real_result_pairs..., existing_summaries..., new_summary]
// with everything else dropped.
func TestSummarizeMemory_ReordersIntoRealResultsAndSummary(t *testing.T) {
	registry := registryWithSummarizableTools(t)
	mem := memory.New()

	original := model.UserMessage("Analyze the quarterly sales data and chart it.")
	pyCall := model.AssistantToolCallMessage("", []model.ToolCall{
		{ID: "call_py", Function: model.ToolCallFunc{Name: "python_execute", Arguments: `{"code":"plot()"}`}},
	})
	pyResult := model.ToolMessage("call_py", "python_execute", "Observed output of cmd `python_execute` executed:\n"+
		`{"output":"chart drawn","output_files":["chart.png"]}`, "")
	dsCall := model.AssistantToolCallMessage("", []model.ToolCall{
		{ID: "call_ds", Function: model.ToolCallFunc{Name: "datasource", Arguments: `{"query":"select * from sales"}`}},
	})
	dsResult := model.ToolMessage("call_ds", "datasource", "Observed output of cmd `datasource` executed:\n"+
		`{"output":"query ok","csv_filename":"query_result.csv"}`, "")

	// A non-preserving tool call/response and some plain chatter, which must
	// be dropped once summarized.
	searchCall := model.AssistantToolCallMessage("", []model.ToolCall{
		{ID: "call_search", Function: model.ToolCallFunc{Name: "web_search", Arguments: `{"query":"sales trends"}`}},
	})
	searchResult := model.ToolMessage("call_search", "web_search", "Observed output of cmd `web_search` executed:\n"+
		`{"output":"no web search backend configured"}`, "")

	mem.AddMessages([]model.Message{original, pyCall, pyResult, searchCall, searchResult, dsCall, dsResult})

	summaryClient := &scriptedClient{responses: []*model.Response{{Content: "Dense summary of progress so far."}}}
	summarizeGW := llm.New(summaryClient, "test-model")

	f := New(Config{Memory: mem, Registry: registry, SummarizeGateway: summarizeGW, AutoSummarize: true})
	f.summarizeMemory(context.Background())

	got := mem.Messages()
	require.Len(t, got, 6)
	assert.Equal(t, original, got[0])
	assert.Equal(t, pyCall, got[1])
	assert.Equal(t, pyResult, got[2])
	assert.Equal(t, dsCall, got[3])
	assert.Equal(t, dsResult, got[4])
	assert.Equal(t, model.RoleSummary, got[5].Role)
	assert.Contains(t, got[5].Text(), "Dense summary of progress so far.")
}

func TestSummarizeMemory_FailsOpenOnLLMError(t *testing.T) {
	registry := registryWithSummarizableTools(t)
	mem := memory.New()
	original := model.UserMessage("do something")
	mem.AddMessages([]model.Message{original, model.AssistantMessage("working on it")})
	before := mem.Messages()

	erroringClient := &fakeStreamErrClient{}
	summarizeGW := llm.New(erroringClient, "test-model")

	f := New(Config{Memory: mem, Registry: registry, SummarizeGateway: summarizeGW, AutoSummarize: true})
	f.summarizeMemory(context.Background())

	assert.Equal(t, before, mem.Messages(), "memory must be untouched when summarization fails")
}

func TestSummarizeMemory_NoopWithoutSummarizeGateway(t *testing.T) {
	mem := memory.New()
	mem.AddMessages([]model.Message{model.UserMessage("hi")})
	before := mem.Messages()

	f := New(Config{Memory: mem})
	f.summarizeMemory(context.Background())

	assert.Equal(t, before, mem.Messages())
}

type fakeStreamErrClient struct{}

func (c *fakeStreamErrClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, assert.AnError
}

func (c *fakeStreamErrClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	return nil, assert.AnError
}

// TestShouldSummarizeBeforeStep covers the Execute loop's gating condition
// (SPEC_FULL.md §4.7 step 3.d): summarization only runs when auto-summarize
// is enabled and the step is not the plan's first.
func TestShouldSummarizeBeforeStep(t *testing.T) {
	assert.False(t, shouldSummarizeBeforeStep(false, 0))
	assert.False(t, shouldSummarizeBeforeStep(false, 1))
	assert.False(t, shouldSummarizeBeforeStep(true, 0))
	assert.True(t, shouldSummarizeBeforeStep(true, 1))
	assert.True(t, shouldSummarizeBeforeStep(true, 5))
}
