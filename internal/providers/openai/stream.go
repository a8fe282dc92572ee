package openai

import (
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/fudanyi/agentflow/internal/model"
)

// streamer adapts an openai-go ChatCompletionChunk SSE stream to
// model.Streamer. Unlike the Anthropic adapter, the openai-go stream's
// Next/Current are synchronous and safe to drive directly from Recv, so no
// background goroutine is needed.
type streamer struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	toolNames map[int64]string
	stopSent  bool
	lastStop  string
}

func newStreamer(stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamer {
	return &streamer{stream: stream, toolNames: make(map[int64]string)}
}

func (s *streamer) Recv() (model.Chunk, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			if chunk.Usage.TotalTokens > 0 {
				return model.Chunk{Type: model.ChunkUsage, Usage: &model.TokenUsage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}}, nil
			}
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			return model.Chunk{Type: model.ChunkText, TextDelta: choice.Delta.Content}, nil
		}
		if len(choice.Delta.ToolCalls) > 0 {
			tc := choice.Delta.ToolCalls[0]
			idx := tc.Index
			if tc.ID != "" {
				s.toolNames[idx] = tc.Function.Name
			}
			return model.Chunk{Type: model.ChunkToolCall, ToolCallDelta: &model.ToolCallDelta{
				Index:             int(idx),
				ID:                tc.ID,
				Name:              tc.Function.Name,
				ArgumentsFragment: tc.Function.Arguments,
			}}, nil
		}
		if choice.FinishReason != "" && !s.stopSent {
			s.stopSent = true
			s.lastStop = choice.FinishReason
			return model.Chunk{Type: model.ChunkStop, StopReason: choice.FinishReason}, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return model.Chunk{}, err
	}
	if !s.stopSent {
		s.stopSent = true
		return model.Chunk{Type: model.ChunkStop, StopReason: s.lastStop}, nil
	}
	return model.Chunk{}, io.EOF
}

func (s *streamer) Close() error {
	return s.stream.Close()
}
