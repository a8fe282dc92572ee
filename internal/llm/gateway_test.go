package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fudanyi/agentflow/internal/model"
)

type fakeStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *fakeStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStreamer) Close() error { return nil }

type fakeClient struct {
	completeResp  *model.Response
	completeErr   error
	streamChunks  []model.Chunk
	streamErr     error
	calls         int
	completeCalls int
}

func (c *fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	c.calls++
	c.completeCalls++
	return c.completeResp, c.completeErr
}

func (c *fakeClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	c.calls++
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return &fakeStreamer{chunks: c.streamChunks}, nil
}

func TestAskTool_AssemblesStreamedToolCallAndUsage(t *testing.T) {
	client := &fakeClient{
		streamChunks: []model.Chunk{
			{Type: model.ChunkToolCall, ToolCallDelta: &model.ToolCallDelta{
				Index: 0, ID: "call_1", Name: "terminate", ArgumentsFragment: `{"status":"success"}`,
			}},
			{Type: model.ChunkUsage, Usage: &model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
			{Type: model.ChunkStop, StopReason: "tool_calls"},
		},
	}
	g := New(client, "test-model")

	resp, err := g.AskTool(context.Background(), []model.Message{model.UserMessage("do the thing")}, nil, model.ToolChoiceAuto)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "terminate", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, g.Usage())
}

// AskTool/AskToolWithImage must call the provider in streaming mode
// (SPEC_FULL.md §4.3 rule 6), never the non-streaming Complete path.
func TestAskTool_AndAskToolWithImage_NeverCallComplete(t *testing.T) {
	newClientWithToolCall := func() *fakeClient {
		return &fakeClient{
			streamChunks: []model.Chunk{
				{Type: model.ChunkToolCall, ToolCallDelta: &model.ToolCallDelta{
					Index: 0, ID: "call_1", Name: "terminate", ArgumentsFragment: `{"status":"success"}`,
				}},
			},
		}
	}

	client := newClientWithToolCall()
	client.completeErr = errors.New("Complete must not be called by AskTool")
	gw := New(client, "test-model")
	_, err := gw.AskTool(context.Background(), []model.Message{model.UserMessage("go")}, nil, model.ToolChoiceAuto)
	require.NoError(t, err)
	assert.Equal(t, 0, client.completeCalls, "AskTool must stream, never call Complete")

	client2 := newClientWithToolCall()
	client2.completeErr = errors.New("Complete must not be called by AskToolWithImage")
	gw2 := New(client2, "test-model")
	_, err = gw2.AskToolWithImage(context.Background(), []model.Message{model.UserMessage("go")}, nil, nil, model.ToolChoiceAuto)
	require.NoError(t, err)
	assert.Equal(t, 0, client2.completeCalls, "AskToolWithImage must stream, never call Complete")
}

func TestAskTool_ReconstructsMissingToolResponse(t *testing.T) {
	// A history with an assistant tool_call but no matching tool response
	// must gain a synthetic empty response when reconstructed, so a
	// provider never sees a dangling tool_call id.
	history := []model.Message{
		model.UserMessage("go"),
		model.AssistantToolCallMessage("", []model.ToolCall{
			{ID: "call_9", Function: model.ToolCallFunc{Name: "noop"}},
		}),
	}
	out := reconstructToolCalls(history)
	require.Len(t, out, 3)
	assert.Equal(t, model.RoleTool, out[2].Role)
	assert.Equal(t, "call_9", out[2].ToolCallID)
	assert.Equal(t, "", out[2].Text())
}

func TestAsk_TokenLimitShortCircuitsWithoutCallingProvider(t *testing.T) {
	client := &fakeClient{}
	g := New(client, "test-model", WithMaxInputTokens(1))

	_, err := g.Ask(context.Background(), []model.Message{
		model.UserMessage("this message has more than a handful of tokens in it by design"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTokenLimitExceeded)
	assert.Equal(t, 0, client.calls, "provider must never be called once the preflight token check fails")
}

func TestAsk_StreamsTextAndAccumulatesUsage(t *testing.T) {
	client := &fakeClient{
		streamChunks: []model.Chunk{
			{Type: model.ChunkText, TextDelta: "Hello, "},
			{Type: model.ChunkText, TextDelta: "world."},
			{Type: model.ChunkUsage, Usage: &model.TokenUsage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}},
			{Type: model.ChunkStop, StopReason: "stop"},
		},
	}
	g := New(client, "test-model")

	text, err := g.Ask(context.Background(), []model.Message{model.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", text)
	assert.Equal(t, model.TokenUsage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}, g.Usage())
}

func TestToolCallAccumulator_AssemblesFragmentsByIndex(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(&model.ToolCallDelta{Index: 0, ID: "call_1", Name: "search", ArgumentsFragment: `{"q":`})
	acc.add(&model.ToolCallDelta{Index: 0, ArgumentsFragment: `"cats"}`})
	acc.add(&model.ToolCallDelta{Index: 1, ID: "call_2", Name: "terminate", ArgumentsFragment: `{}`})

	calls := acc.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "search", calls[0].Function.Name)
	assert.Equal(t, `{"q":"cats"}`, calls[0].Function.Arguments)
	assert.Equal(t, "call_2", calls[1].ID)
}
